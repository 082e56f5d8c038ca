/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // planning timezone must resolve on minimal images
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	// Remote auction registry
	APIURL      string // Base URL ending in a slash, e.g. https://api.example.com/api/2.5/
	APIToken    string
	CallbackURL string // Base URL jobs push to, normally this service itself
	HTTPTimeout time.Duration

	// Outbound retry caps
	HTTPRetryMaxElapsed  time.Duration
	HTTPRetryMaxInterval time.Duration

	// Planning
	Timezone            string
	SandboxMode         bool
	PlanConflictRetries int
	AuctionTypesFile    string   // Optional YAML override of the type -> strategy table
	RecurringHolidays   []string // RRULE strings treated as holidays

	// Jobs
	Workers         int
	MisfireGrace    time.Duration
	JobSyncInterval time.Duration
	SmoothingMin    int // seconds
	SmoothingRemin  int // seconds
	SmoothingMax    int // seconds
	ResyncPageRPS   float64

	JWTSigningKey string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	NATSURL string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"CHRONOGRAPH_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"CHRONOGRAPH_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"CHRONOGRAPH_HTTP_PORT"}, 9005),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"CHRONOGRAPH_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"CHRONOGRAPH_DB_DSN"}, "file:chronograph.db"),

		APIURL:      getEnvAny([]string{"CHRONOGRAPH_API_URL", "API_URL"}, ""),
		APIToken:    getEnvAny([]string{"CHRONOGRAPH_API_TOKEN", "API_TOKEN"}, ""),
		CallbackURL: getEnvAny([]string{"CHRONOGRAPH_CALLBACK_URL", "CALLBACK_URL"}, "http://127.0.0.1:9005/"),
		HTTPTimeout: getEnvDurationAny([]string{"CHRONOGRAPH_HTTP_TIMEOUT"}, 30*time.Second),

		HTTPRetryMaxElapsed:  getEnvDurationAny([]string{"CHRONOGRAPH_HTTP_RETRY_MAX_ELAPSED"}, 10*time.Minute),
		HTTPRetryMaxInterval: getEnvDurationAny([]string{"CHRONOGRAPH_HTTP_RETRY_MAX_INTERVAL"}, 5*time.Minute),

		Timezone:            getEnvAny([]string{"CHRONOGRAPH_TZ", "TZ"}, "Europe/Kiev"),
		SandboxMode:         getEnvBoolAny([]string{"CHRONOGRAPH_SANDBOX_MODE", "SANDBOX_MODE"}, false),
		PlanConflictRetries: getEnvIntAny([]string{"CHRONOGRAPH_PLAN_CONFLICT_RETRIES"}, 50),
		AuctionTypesFile:    getEnvAny([]string{"CHRONOGRAPH_AUCTION_TYPES_FILE"}, ""),
		RecurringHolidays:   splitList(getEnvAny([]string{"CHRONOGRAPH_RECURRING_HOLIDAYS"}, "")),

		Workers:         getEnvIntAny([]string{"CHRONOGRAPH_WORKERS"}, 5),
		MisfireGrace:    getEnvDurationAny([]string{"CHRONOGRAPH_MISFIRE_GRACE"}, time.Hour),
		JobSyncInterval: getEnvDurationAny([]string{"CHRONOGRAPH_JOB_SYNC_INTERVAL"}, 30*time.Second),
		SmoothingMin:    getEnvIntAny([]string{"CHRONOGRAPH_SMOOTHING_MIN"}, 10),
		SmoothingRemin:  getEnvIntAny([]string{"CHRONOGRAPH_SMOOTHING_REMIN"}, 60),
		SmoothingMax:    getEnvIntAny([]string{"CHRONOGRAPH_SMOOTHING_MAX"}, 300),
		ResyncPageRPS:   getEnvFloatAny([]string{"CHRONOGRAPH_RESYNC_PAGE_RPS"}, 10),

		JWTSigningKey: getEnvAny([]string{"CHRONOGRAPH_JWT_SIGNING_KEY"}, ""),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"CHRONOGRAPH_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"CHRONOGRAPH_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"CHRONOGRAPH_TRACING_SAMPLE_RATE"}, 1.0),

		// Multi-instance configuration
		LeaderElectionEnabled: getEnvBoolAny([]string{"CHRONOGRAPH_LEADER_ELECTION"}, false),
		RedisAddr:             getEnvAny([]string{"CHRONOGRAPH_REDIS_ADDR"}, ""),
		RedisPassword:         getEnvAny([]string{"CHRONOGRAPH_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"CHRONOGRAPH_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"CHRONOGRAPH_INSTANCE_ID"}, ""),

		NATSURL: getEnvAny([]string{"CHRONOGRAPH_NATS_URL"}, ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("CHRONOGRAPH_DB_DSN must be provided")
	}
	if c.APIURL == "" {
		return fmt.Errorf("CHRONOGRAPH_API_URL or API_URL must be provided")
	}
	if !strings.HasSuffix(c.APIURL, "/") {
		c.APIURL += "/"
	}
	if !strings.HasSuffix(c.CallbackURL, "/") {
		c.CallbackURL += "/"
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	if c.SmoothingMin < 0 || c.SmoothingMin > c.SmoothingMax || c.SmoothingRemin > c.SmoothingMax {
		return fmt.Errorf("smoothing bounds out of order: min=%d remin=%d max=%d", c.SmoothingMin, c.SmoothingRemin, c.SmoothingMax)
	}
	if c.Workers < 1 {
		return fmt.Errorf("CHRONOGRAPH_WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.PlanConflictRetries < 1 {
		return fmt.Errorf("CHRONOGRAPH_PLAN_CONFLICT_RETRIES must be at least 1, got %d", c.PlanConflictRetries)
	}
	if c.LeaderElectionEnabled && c.RedisAddr == "" {
		return fmt.Errorf("CHRONOGRAPH_REDIS_ADDR is required when leader election is enabled")
	}
	return nil
}

// Location returns the planning timezone. Validate has already checked it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"API_URL":      "use CHRONOGRAPH_API_URL",
		"API_TOKEN":    "use CHRONOGRAPH_API_TOKEN",
		"CALLBACK_URL": "use CHRONOGRAPH_CALLBACK_URL",
		"SANDBOX_MODE": "use CHRONOGRAPH_SANDBOX_MODE",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// splitList splits a "|"-separated value. RRULEs contain ";" so that cannot be the separator.
func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, "|") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go duration strings ("90s") or a bare number of seconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
			if secs, err := strconv.Atoi(v); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return def
}
