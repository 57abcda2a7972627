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

	"github.com/friendsincode/bragi_flows/internal/actions"
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
	BaseURL     string // Public base URL (e.g., http://flows.example.com:8080)
	DBBackend   DatabaseBackend
	DBDSN       string

	JWTSigningKey string
	MetricsBind   string

	// Scheduling
	PlanningHorizonDays int           // Conflict-check horizon on create/update
	SweepInterval       time.Duration // Nightly schedule revalidation
	DispatchEnabled     bool          // Run the live dispatcher in this instance

	// Action duration defaults (seconds)
	AnnouncementSeconds   int
	SetVolumeSeconds      int
	TimeCheckSeconds      int
	GenerateJingleSeconds int
	CommercialSpotSeconds int
	SongLengthSeconds     int

	// Parser boundary
	ParserEndpoint string // External text-to-action service; empty disables the endpoint

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	NATSToken     string
	CacheEnabled  bool
	InstanceID    string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"BRAGI_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"BRAGI_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"BRAGI_HTTP_PORT"}, 8080),
		BaseURL:     getEnvAny([]string{"BRAGI_BASE_URL"}, ""),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"BRAGI_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:       getEnvAny([]string{"BRAGI_DB_DSN"}, ""),

		JWTSigningKey: getEnvAny([]string{"BRAGI_JWT_SIGNING_KEY"}, ""),
		MetricsBind:   getEnvAny([]string{"BRAGI_METRICS_BIND"}, "127.0.0.1:9000"),

		PlanningHorizonDays: getEnvIntAny([]string{"BRAGI_PLANNING_HORIZON_DAYS"}, 90),
		SweepInterval:       time.Duration(getEnvIntAny([]string{"BRAGI_SWEEP_INTERVAL_HOURS"}, 24)) * time.Hour,
		DispatchEnabled:     getEnvBoolAny([]string{"BRAGI_DISPATCH_ENABLED"}, true),

		AnnouncementSeconds:   getEnvIntAny([]string{"BRAGI_ANNOUNCEMENT_SECONDS"}, 30),
		SetVolumeSeconds:      getEnvIntAny([]string{"BRAGI_SET_VOLUME_SECONDS"}, 5),
		TimeCheckSeconds:      getEnvIntAny([]string{"BRAGI_TIME_CHECK_SECONDS"}, 5),
		GenerateJingleSeconds: getEnvIntAny([]string{"BRAGI_GENERATE_JINGLE_SECONDS"}, 20),
		CommercialSpotSeconds: getEnvIntAny([]string{"BRAGI_COMMERCIAL_SPOT_SECONDS"}, 30),
		SongLengthSeconds:     getEnvIntAny([]string{"BRAGI_SONG_LENGTH_SECONDS"}, 210),

		ParserEndpoint: getEnvAny([]string{"BRAGI_PARSER_ENDPOINT"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"BRAGI_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"BRAGI_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"BRAGI_TRACING_SAMPLE_RATE"}, 1.0),

		RedisAddr:     getEnvAny([]string{"BRAGI_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"BRAGI_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"BRAGI_REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"BRAGI_NATS_URL"}, ""),
		NATSToken:     getEnvAny([]string{"BRAGI_NATS_TOKEN"}, ""),
		CacheEnabled:  getEnvBoolAny([]string{"BRAGI_CACHE_ENABLED"}, false),
		InstanceID:    getEnvAny([]string{"BRAGI_INSTANCE_ID"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("BRAGI_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("BRAGI_JWT_SIGNING_KEY must be provided")
	}

	if cfg.PlanningHorizonDays <= 0 {
		return nil, fmt.Errorf("BRAGI_PLANNING_HORIZON_DAYS must be positive")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// PlanningHorizon returns the conflict-check horizon as a duration.
func (c *Config) PlanningHorizon() time.Duration {
	return time.Duration(c.PlanningHorizonDays) * 24 * time.Hour
}

// ActionDefaults converts the configured default estimates.
func (c *Config) ActionDefaults() actions.Defaults {
	return actions.Defaults{
		SetVolume:      time.Duration(c.SetVolumeSeconds) * time.Second,
		Announcement:   time.Duration(c.AnnouncementSeconds) * time.Second,
		TimeCheck:      time.Duration(c.TimeCheckSeconds) * time.Second,
		GenerateJingle: time.Duration(c.GenerateJingleSeconds) * time.Second,
		CommercialSpot: time.Duration(c.CommercialSpotSeconds) * time.Second,
		SongLength:     time.Duration(c.SongLengthSeconds) * time.Second,
	}
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":     "use BRAGI_ENV",
		"JWT_SIGNING_KEY": "use BRAGI_JWT_SIGNING_KEY",
		"TRACING_ENABLED": "use BRAGI_TRACING_ENABLED",
		"OTLP_ENDPOINT":   "use BRAGI_OTLP_ENDPOINT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
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
