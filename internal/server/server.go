/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the chronograph components together and serves HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/friendsincode/chronograph/internal/api"
	"github.com/friendsincode/chronograph/internal/cache"
	"github.com/friendsincode/chronograph/internal/calendar"
	"github.com/friendsincode/chronograph/internal/config"
	"github.com/friendsincode/chronograph/internal/db"
	"github.com/friendsincode/chronograph/internal/eventbus"
	"github.com/friendsincode/chronograph/internal/events"
	"github.com/friendsincode/chronograph/internal/leadership"
	"github.com/friendsincode/chronograph/internal/lifecycle"
	"github.com/friendsincode/chronograph/internal/models"
	"github.com/friendsincode/chronograph/internal/planning"
	"github.com/friendsincode/chronograph/internal/registry"
	"github.com/friendsincode/chronograph/internal/resync"
	"github.com/friendsincode/chronograph/internal/scheduler"
	"github.com/friendsincode/chronograph/internal/telemetry"
	"github.com/friendsincode/chronograph/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db                   *gorm.DB
	cache                *cache.Cache
	bus                  *events.Bus
	calendar             *calendar.Store
	scheduler            *scheduler.Service
	leaderAwareScheduler *scheduler.LeaderAwareScheduler
	watchdog             *scheduler.Watchdog
	engine               *resync.Engine
	forwarder            *eventbus.NATSForwarder
	api                  *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.MetricsMiddleware)

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	if err := srv.startBackgroundWorkers(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(srv.router, "chronograph"),
		ReadHeaderTimeout: 15 * time.Second,
		// A resync_all sweep can outlast any sensible write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	loc := s.cfg.Location()

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	s.cache, err = cache.New(cacheCfg, s.logger)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	s.DeferClose(func() error { return s.cache.Close() })

	s.calendar, err = calendar.NewStore(database, s.cache, s.bus, loc, s.cfg.RecurringHolidays, s.logger)
	if err != nil {
		return fmt.Errorf("initialize calendar: %w", err)
	}

	types := planning.DefaultRegistry()
	if s.cfg.AuctionTypesFile != "" {
		types, err = planning.LoadRegistry(s.cfg.AuctionTypesFile)
		if err != nil {
			return fmt.Errorf("load auction types: %w", err)
		}
	}
	planner := planning.New(
		planning.NewGormRepository(database, loc),
		types,
		s.calendar,
		s.calendar,
		s.bus,
		planning.Options{Location: loc, ConflictRetries: s.cfg.PlanConflictRetries},
		s.logger,
	)
	evaluator := lifecycle.NewEvaluator(planner, lifecycle.Options{
		Location: loc,
		Sandbox:  s.cfg.SandboxMode,
	}, s.logger)

	client := registry.New(registry.Config{
		BaseURL:          s.cfg.APIURL,
		Token:            s.cfg.APIToken,
		Timeout:          s.cfg.HTTPTimeout,
		RetryMaxElapsed:  s.cfg.HTTPRetryMaxElapsed,
		RetryMaxInterval: s.cfg.HTTPRetryMaxInterval,
	}, s.logger)

	s.scheduler = scheduler.New(database, client, s.bus, scheduler.Options{
		Workers:      s.cfg.Workers,
		MisfireGrace: s.cfg.MisfireGrace,
		SyncInterval: s.cfg.JobSyncInterval,
	}, s.logger)

	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.ElectionConfig{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			InstanceID:    s.cfg.InstanceID,
		}
		election, err := leadership.NewElection(electionConfig, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		s.leaderAwareScheduler = scheduler.NewLeaderAware(s.scheduler, election, s.logger)
		s.DeferClose(func() error { return s.leaderAwareScheduler.Stop() })

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", election.InstanceID()).
			Msg("leader election enabled for scheduler")
	}

	s.engine = resync.New(client, evaluator, s.scheduler, resync.Options{
		CallbackURL:    s.cfg.CallbackURL,
		Location:       loc,
		SmoothingMin:   time.Duration(s.cfg.SmoothingMin) * time.Second,
		SmoothingRemin: time.Duration(s.cfg.SmoothingRemin) * time.Second,
		SmoothingMax:   time.Duration(s.cfg.SmoothingMax) * time.Second,
		PageRate:       rate.Limit(s.cfg.ResyncPageRPS),
	}, s.logger)

	// The first heartbeat goes out a minute after start; the watchdog
	// re-arms it whenever it goes missing.
	s.watchdog = scheduler.NewWatchdog(s.scheduler, "", loc, s.engine.HeartbeatSpec, s.logger)

	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		s.forwarder, err = eventbus.NewNATSForwarder(natsCfg, s.bus, s.logger)
		if err != nil {
			return fmt.Errorf("initialize nats forwarder: %w", err)
		}
		s.DeferClose(func() error { return s.forwarder.Close() })
	}

	s.api = api.New(s.scheduler, s.engine, s.calendar, streamKeys(types), []byte(s.cfg.JWTSigningKey), loc, s.logger)
	return nil
}

// streamKeys puts the built-in capacity keys first, in their usual order,
// followed by any extra keys an overridden type table introduces.
func streamKeys(types *planning.Registry) []string {
	keys := append([]string(nil), models.StreamKeys...)
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	for _, k := range types.StreamKeys() {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// HTTPServer exposes the underlying *http.Server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close stops background work and releases resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers fn to run on Close.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.leaderAwareScheduler != nil {
		if err := s.leaderAwareScheduler.Start(ctx); err != nil {
			return fmt.Errorf("start leader-aware scheduler: %w", err)
		}
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("scheduler loop exited")
			}
		}()
	}

	if err := s.watchdog.Start(ctx); err != nil {
		return err
	}

	if s.forwarder != nil {
		s.forwarder.Start(ctx)
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	s.logger.Info().Str("version", version.Version).Msg("background workers started")
	return nil
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := fmt.Sprintf(`{"status":"ok","version":%q`, version.Version)
		if s.leaderAwareScheduler != nil {
			response += fmt.Sprintf(`,"leader":%t`, s.leaderAwareScheduler.IsLeader())
		}
		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
