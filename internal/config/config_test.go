package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CHRONOGRAPH_API_URL", "https://registry.example.com/api/2.5")
	t.Setenv("CHRONOGRAPH_TZ", "Europe/Kiev")
}

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	setRequired(t)
	t.Setenv("CHRONOGRAPH_API_TOKEN", "broker")
	t.Setenv("CHRONOGRAPH_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("CHRONOGRAPH_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.APIURL != "https://registry.example.com/api/2.5/" {
		t.Fatalf("expected trailing slash on api url, got %q", cfg.APIURL)
	}
	if cfg.APIToken != "broker" {
		t.Fatalf("unexpected api token: %q", cfg.APIToken)
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.Workers != 5 || cfg.MisfireGrace != time.Hour {
		t.Fatalf("unexpected job defaults: workers=%d grace=%s", cfg.Workers, cfg.MisfireGrace)
	}
	if cfg.SmoothingMin != 10 || cfg.SmoothingRemin != 60 || cfg.SmoothingMax != 300 {
		t.Fatalf("unexpected smoothing defaults: %d/%d/%d", cfg.SmoothingMin, cfg.SmoothingRemin, cfg.SmoothingMax)
	}
	if cfg.Location().String() != "Europe/Kiev" {
		t.Fatalf("unexpected location %s", cfg.Location())
	}
}

func TestLoadRequiresAPIURL(t *testing.T) {
	t.Setenv("CHRONOGRAPH_API_URL", "")
	t.Setenv("API_URL", "")
	t.Setenv("CHRONOGRAPH_TZ", "UTC")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing api url to fail")
	}
}

func TestLoadAcceptsLegacyAliases(t *testing.T) {
	t.Setenv("CHRONOGRAPH_API_URL", "")
	t.Setenv("API_URL", "http://legacy/api/")
	t.Setenv("SANDBOX_MODE", "1")
	t.Setenv("CHRONOGRAPH_TZ", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.APIURL != "http://legacy/api/" || !cfg.SandboxMode {
		t.Fatalf("legacy aliases not honoured: %+v", cfg)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown timezone", "CHRONOGRAPH_TZ", "Mars/Olympus"},
		{"smoothing out of order", "CHRONOGRAPH_SMOOTHING_MIN", "400"},
		{"no workers", "CHRONOGRAPH_WORKERS", "0"},
		{"bad backend", "CHRONOGRAPH_DB_BACKEND", "oracle"},
		{"election without redis", "CHRONOGRAPH_LEADER_ELECTION", "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv("CHRONOGRAPH_REDIS_ADDR", "")
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to fail validation", tt.key, tt.val)
			}
		})
	}
}

func TestDurationsAndHolidayRules(t *testing.T) {
	setRequired(t)
	t.Setenv("CHRONOGRAPH_HTTP_RETRY_MAX_ELAPSED", "90")
	t.Setenv("CHRONOGRAPH_JOB_SYNC_INTERVAL", "5s")
	t.Setenv("CHRONOGRAPH_RECURRING_HOLIDAYS", "FREQ=YEARLY;BYMONTH=1;BYMONTHDAY=1 | FREQ=YEARLY;BYMONTH=8;BYMONTHDAY=24")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPRetryMaxElapsed != 90*time.Second {
		t.Fatalf("expected bare seconds to parse, got %s", cfg.HTTPRetryMaxElapsed)
	}
	if cfg.JobSyncInterval != 5*time.Second {
		t.Fatalf("unexpected sync interval %s", cfg.JobSyncInterval)
	}
	if len(cfg.RecurringHolidays) != 2 || cfg.RecurringHolidays[1] != "FREQ=YEARLY;BYMONTH=8;BYMONTHDAY=24" {
		t.Fatalf("unexpected holiday rules %#v", cfg.RecurringHolidays)
	}
}
