package config

import (
	"testing"
	"time"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("BRAGI_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("BRAGI_DB_BACKEND", "sqlite")
	t.Setenv("BRAGI_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("BRAGI_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN to be set")
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("unexpected backend: %q", cfg.DBBackend)
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
}

func TestLoadAppliesSchedulingDefaults(t *testing.T) {
	t.Setenv("BRAGI_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("BRAGI_DB_BACKEND", "sqlite")
	t.Setenv("BRAGI_JWT_SIGNING_KEY", "supersecret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PlanningHorizonDays != 90 {
		t.Fatalf("PlanningHorizonDays=%d, want 90", cfg.PlanningHorizonDays)
	}
	if got := cfg.PlanningHorizon(); got != 90*24*time.Hour {
		t.Fatalf("PlanningHorizon()=%s, want 2160h", got)
	}
	if cfg.SweepInterval != 24*time.Hour {
		t.Fatalf("SweepInterval=%s, want 24h", cfg.SweepInterval)
	}
	if !cfg.DispatchEnabled {
		t.Fatal("expected dispatch enabled by default")
	}

	defaults := cfg.ActionDefaults()
	if defaults.Announcement != 30*time.Second {
		t.Fatalf("Announcement=%s, want 30s", defaults.Announcement)
	}
	if defaults.SongLength != 210*time.Second {
		t.Fatalf("SongLength=%s, want 210s", defaults.SongLength)
	}
}

func TestLoadRejectsMissingRequiredKeys(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing dsn",
			env: map[string]string{
				"BRAGI_JWT_SIGNING_KEY": "supersecret",
			},
		},
		{
			name: "missing jwt key",
			env: map[string]string{
				"BRAGI_DB_DSN": "file::memory:?cache=shared",
			},
		},
		{
			name: "bad backend",
			env: map[string]string{
				"BRAGI_DB_DSN":          "x",
				"BRAGI_JWT_SIGNING_KEY": "supersecret",
				"BRAGI_DB_BACKEND":      "oracle",
			},
		},
		{
			name: "non-positive horizon",
			env: map[string]string{
				"BRAGI_DB_DSN":                "x",
				"BRAGI_JWT_SIGNING_KEY":       "supersecret",
				"BRAGI_PLANNING_HORIZON_DAYS": "0",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("BRAGI_DB_DSN", "")
			t.Setenv("BRAGI_JWT_SIGNING_KEY", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("BRAGI_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("BRAGI_DB_BACKEND", "sqlite")
	t.Setenv("BRAGI_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("JWT_SIGNING_KEY", "legacy")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) < 2 {
		t.Fatalf("expected warnings for both legacy keys, got %v", cfg.LegacyEnvWarnings)
	}
}
