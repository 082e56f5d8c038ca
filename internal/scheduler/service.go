/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler persists one-shot callback jobs and fires them on time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/friendsincode/chronograph/internal/events"
	"github.com/friendsincode/chronograph/internal/models"
	"github.com/friendsincode/chronograph/internal/scheduler/state"
	"github.com/friendsincode/chronograph/internal/telemetry"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrJobNotFound is returned for an id with no pending job.
var ErrJobNotFound = errors.New("job not found")

// Executor runs a job's callback.
type Executor interface {
	Push(ctx context.Context, url string, params map[string]string) error
}

// JobSpec describes a job to arm.
type JobSpec struct {
	ID           string
	Name         string
	RunAt        time.Time
	Due          time.Time // requested time before jitter; defaults to RunAt
	URL          string
	Params       map[string]string
	MisfireGrace time.Duration
}

// Options tunes a Service.
type Options struct {
	Workers      int
	MisfireGrace time.Duration
	SyncInterval time.Duration
	Now          func() time.Time
}

// Service is the persistent job scheduler. Jobs live in the jobs table, one
// row per id; Run arms an in-process timer per row and hands due jobs to a
// worker pool.
type Service struct {
	db       *gorm.DB
	exec     Executor
	bus      events.Publisher
	inflight *state.Store
	logger   zerolog.Logger

	workers      int
	grace        time.Duration
	syncInterval time.Duration
	now          func() time.Time

	mu     sync.Mutex
	timers map[string]*armedTimer
	queue  chan fireRequest
	runCtx context.Context // nil unless Run is active
}

type armedTimer struct {
	runAt time.Time
	timer *time.Timer
}

type fireRequest struct {
	id    string
	runAt time.Time
}

// New constructs the scheduler service.
func New(db *gorm.DB, exec Executor, bus events.Publisher, opts Options, logger zerolog.Logger) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.MisfireGrace <= 0 {
		opts.MisfireGrace = time.Hour
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Service{
		db:           db,
		exec:         exec,
		bus:          bus,
		inflight:     state.NewStore(),
		logger:       logger.With().Str("component", "scheduler").Logger(),
		workers:      opts.Workers,
		grace:        opts.MisfireGrace,
		syncInterval: opts.SyncInterval,
		now:          opts.Now,
		timers:       make(map[string]*armedTimer),
	}
}

// normalize drops precision the slowest backend (MySQL datetime(3)) cannot store.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// jobKind buckets ids for metrics.
func jobKind(id string) string {
	switch {
	case id == "resync_all", id == "resync_back":
		return id
	case strings.HasPrefix(id, "recheck_"):
		return "recheck"
	default:
		return "resync"
	}
}

// AddJob stores spec, replacing any pending job with the same id, and arms
// its timer when this instance is dispatching.
func (s *Service) AddJob(ctx context.Context, spec JobSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("add job: empty id")
	}
	if spec.Due.IsZero() {
		spec.Due = spec.RunAt
	}
	if spec.MisfireGrace <= 0 {
		spec.MisfireGrace = s.grace
	}

	job := models.Job{
		ID:           spec.ID,
		Name:         spec.Name,
		RunAt:        normalize(spec.RunAt),
		Due:          normalize(spec.Due),
		URL:          spec.URL,
		Params:       spec.Params,
		MisfireGrace: spec.MisfireGrace,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "run_at", "due", "url", "params", "misfire_grace", "updated_at"}),
		}).
		Create(&job).Error
	if err != nil {
		telemetry.SchedulerErrorsTotal.WithLabelValues("add").Inc()
		return fmt.Errorf("add job %s: %w", spec.ID, err)
	}

	telemetry.JobsArmedTotal.WithLabelValues(jobKind(job.ID)).Inc()
	s.bus.Publish(events.EventJobArmed, events.Payload{
		"job_id": job.ID,
		"run_at": job.RunAt.Format(time.RFC3339),
		"url":    job.URL,
	})
	s.logger.Debug().Str("job_id", job.ID).Time("run_at", job.RunAt).Msg("job armed")

	s.arm(job.ID, job.RunAt)
	return nil
}

// EnsureJob adds spec only if no job with its id is pending. It reports
// whether a job was added.
func (s *Service) EnsureJob(ctx context.Context, spec JobSpec) (bool, error) {
	if _, err := s.GetJob(ctx, spec.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrJobNotFound) {
		return false, err
	}
	if err := s.AddJob(ctx, spec); err != nil {
		return false, err
	}
	return true, nil
}

// GetJob returns the pending job for id.
func (s *Service) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

// ListJobs returns every pending job ordered by run time.
func (s *Service) ListJobs(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	if err := s.db.WithContext(ctx).Order("run_at, id").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// RemoveJob deletes the pending job for id, if any.
func (s *Service) RemoveJob(ctx context.Context, id string) error {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Job{}).Error; err != nil {
		return fmt.Errorf("remove job %s: %w", id, err)
	}
	return nil
}

// Running returns the ids whose callbacks are executing.
func (s *Service) Running() []string {
	return s.inflight.Running()
}

// Run dispatches jobs until ctx is cancelled. Timers are armed from the
// table on start and re-read every sync interval so jobs added by other
// instances are picked up.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	queue := make(chan fireRequest, s.workers*4)
	s.runCtx = runCtx
	s.queue = queue
	s.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(runCtx, queue)
		}()
	}

	s.logger.Info().Int("workers", s.workers).Msg("scheduler loop started")
	s.sync(runCtx)

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			s.sync(runCtx)
		}
	}

	s.mu.Lock()
	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
	}
	s.runCtx = nil
	s.mu.Unlock()

	cancel()
	wg.Wait()
	s.logger.Info().Msg("scheduler loop stopped")
	return ctx.Err()
}

// sync arms a timer for every row. Rows whose timer is already armed for
// the same time are left alone.
func (s *Service) sync(ctx context.Context) {
	telemetry.SchedulerTicksTotal.Inc()

	jobs, err := s.ListJobs(ctx)
	if err != nil {
		if ctx.Err() == nil {
			telemetry.SchedulerErrorsTotal.WithLabelValues("sync").Inc()
			s.logger.Error().Err(err).Msg("scheduler failed to load jobs")
		}
		return
	}
	telemetry.JobsPending.Set(float64(len(jobs)))
	for _, job := range jobs {
		s.arm(job.ID, normalize(job.RunAt))
	}
}

func (s *Service) arm(id string, runAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return
	}
	if t, ok := s.timers[id]; ok {
		if t.runAt.Equal(runAt) {
			return
		}
		t.timer.Stop()
	}

	delay := runAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.timers[id] = &armedTimer{
		runAt: runAt,
		timer: time.AfterFunc(delay, func() { s.fire(id, runAt) }),
	}
}

func (s *Service) fire(id string, runAt time.Time) {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok && t.runAt.Equal(runAt) {
		delete(s.timers, id)
	}
	ctx, queue := s.runCtx, s.queue
	s.mu.Unlock()

	if ctx == nil {
		return
	}
	select {
	case queue <- fireRequest{id: id, runAt: runAt}:
	case <-ctx.Done():
	}
}

func (s *Service) worker(ctx context.Context, queue chan fireRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-queue:
			s.execute(ctx, queue, req)
		}
	}
}

func (s *Service) execute(ctx context.Context, queue chan fireRequest, req fireRequest) {
	job, err := s.GetJob(ctx, req.id)
	if errors.Is(err, ErrJobNotFound) {
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			telemetry.SchedulerErrorsTotal.WithLabelValues("load").Inc()
			s.logger.Error().Err(err).Str("job_id", req.id).Msg("failed to load due job")
		}
		return
	}
	runAt := normalize(job.RunAt)
	if !runAt.Equal(req.runAt) {
		// Re-armed since this timer was set; the new timer owns it.
		return
	}

	kind := jobKind(job.ID)
	now := s.now()
	if late := now.Sub(runAt); late > job.MisfireGrace {
		s.deleteIfUnchanged(ctx, job.ID, runAt)
		telemetry.JobsMisfiredTotal.WithLabelValues(kind).Inc()
		s.bus.Publish(events.EventJobDropped, events.Payload{"job_id": job.ID, "run_at": runAt.Format(time.RFC3339)})
		s.logger.Warn().Str("job_id", job.ID).Time("run_at", runAt).Dur("late", late).Msg("job missed its grace window, dropped")
		return
	}

	if !s.inflight.Begin(job.ID, runAt, now) {
		s.logger.Debug().Str("job_id", job.ID).Msg("previous run still executing, deferring")
		return
	}

	outcome := "ok"
	if err := s.call(ctx, job); err != nil {
		outcome = "error"
		s.logger.Error().Err(err).Str("job_id", job.ID).Str("url", job.URL).Msg("job callback failed")
	}
	if ctx.Err() == nil {
		s.deleteIfUnchanged(ctx, job.ID, runAt)
	}
	telemetry.JobsFiredTotal.WithLabelValues(kind, outcome).Inc()
	s.bus.Publish(events.EventJobFired, events.Payload{"job_id": job.ID, "outcome": outcome})

	if next, ok := s.inflight.Finish(job.ID); ok {
		go func() {
			select {
			case queue <- fireRequest{id: job.ID, runAt: next}:
			case <-ctx.Done():
			}
		}()
	}
}

// call runs the callback, turning a panic into an error.
func (s *Service) call(ctx context.Context, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %s: %v", job.ID, r)
		}
	}()
	return s.exec.Push(ctx, job.URL, job.Params)
}

// deleteIfUnchanged removes the row only if nobody re-armed it meanwhile.
func (s *Service) deleteIfUnchanged(ctx context.Context, id string, runAt time.Time) {
	err := s.db.WithContext(ctx).
		Where("id = ? AND run_at = ?", id, runAt).
		Delete(&models.Job{}).Error
	if err != nil {
		telemetry.SchedulerErrorsTotal.WithLabelValues("delete").Inc()
		s.logger.Error().Err(err).Str("job_id", id).Msg("failed to delete fired job")
	}
}
