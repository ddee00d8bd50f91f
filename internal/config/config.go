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

	"github.com/robfig/cron/v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// OptionsBackend selects where timer records and transients live.
type OptionsBackend string

const (
	OptionsDB     OptionsBackend = "db"
	OptionsRedis  OptionsBackend = "redis"
	OptionsMemory OptionsBackend = "memory"
)

// LockBackend selects the per timer lock implementation.
type LockBackend string

const (
	LockLocal LockBackend = "local"
	LockRedis LockBackend = "redis"
)

// PackageStorage selects where downloaded update packages are written.
type PackageStorage string

const (
	PackageStorageFS PackageStorage = "fs"
	PackageStorageS3 PackageStorage = "s3"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	DBBackend      DatabaseBackend
	DBDSN          string
	OptionsBackend OptionsBackend

	// Scheduler
	DriverSchedule string
	TimerLockTTL   time.Duration
	LockBackend    LockBackend
	SeedFile       string

	// Timer history kept in the database
	HistoryEnabled   bool
	HistoryRetention time.Duration

	// Form nonces and admin access
	NonceSecret    string
	NonceTTL       time.Duration
	AdminTokenHash string // bcrypt hash of the bearer token for write endpoints

	// Update servers
	UpdateTimeout   time.Duration
	DownloadTimeout time.Duration
	SSLKey          string
	SSLIV           string
	PackageStorage  PackageStorage
	PackageDir      string

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Event bridge
	NATSURL   string
	NATSToken string

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

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny(keys("ENV"), "development"),
		HTTPBind:    getEnvAny(keys("HTTP_BIND"), "0.0.0.0"),
		HTTPPort:    getEnvIntAny(keys("HTTP_PORT"), 8080),
		MetricsBind: getEnvAny(keys("METRICS_BIND"), ""),

		DBBackend:      DatabaseBackend(getEnvAny(keys("DB_BACKEND"), string(DatabaseSQLite))),
		DBDSN:          getEnvAny(keys("DB_DSN"), "updatehelper.db"),
		OptionsBackend: OptionsBackend(getEnvAny(keys("OPTIONS_BACKEND"), string(OptionsDB))),

		DriverSchedule: getEnvAny(keys("DRIVER_SCHEDULE"), "@every 1m"),
		TimerLockTTL:   time.Duration(getEnvIntAny(keys("TIMER_LOCK_TTL_SECONDS"), 300)) * time.Second,
		LockBackend:    LockBackend(getEnvAny(keys("LOCK_BACKEND"), string(LockLocal))),
		SeedFile:       getEnvAny(keys("SEED_FILE"), ""),

		HistoryEnabled:   getEnvBoolAny(keys("HISTORY_ENABLED"), true),
		HistoryRetention: time.Duration(getEnvIntAny(keys("HISTORY_RETENTION_DAYS"), 30)) * 24 * time.Hour,

		NonceSecret:    getEnvAny(keys("NONCE_SECRET"), ""),
		NonceTTL:       time.Duration(getEnvIntAny(keys("NONCE_TTL_MINUTES"), 24*60)) * time.Minute,
		AdminTokenHash: getEnvAny(keys("ADMIN_TOKEN_HASH"), ""),

		UpdateTimeout:   time.Duration(getEnvIntAny(keys("UPDATE_TIMEOUT_SECONDS"), 12)) * time.Second,
		DownloadTimeout: time.Duration(getEnvIntAny(keys("DOWNLOAD_TIMEOUT_SECONDS"), 300)) * time.Second,
		SSLKey:          getEnvAny(keys("SSL_KEY"), ""),
		SSLIV:           getEnvAny(keys("SSL_IV"), ""),
		PackageStorage:  PackageStorage(getEnvAny(keys("PACKAGE_STORAGE"), string(PackageStorageFS))),
		PackageDir:      getEnvAny(keys("PACKAGE_DIR"), "./packages"),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny(append(keys("S3_ACCESS_KEY_ID"), "AWS_ACCESS_KEY_ID"), ""),
		S3SecretAccessKey: getEnvAny(append(keys("S3_SECRET_ACCESS_KEY"), "AWS_SECRET_ACCESS_KEY"), ""),
		S3Region:          getEnvAny(append(keys("S3_REGION"), "AWS_REGION"), "us-east-1"),
		S3Bucket:          getEnvAny(keys("S3_BUCKET"), ""),
		S3Endpoint:        getEnvAny(keys("S3_ENDPOINT"), ""),
		S3UsePathStyle:    getEnvBoolAny(keys("S3_USE_PATH_STYLE"), false),

		NATSURL:   getEnvAny(keys("NATS_URL"), ""),
		NATSToken: getEnvAny(keys("NATS_TOKEN"), ""),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny(keys("TRACING_ENABLED"), false),
		OTLPEndpoint:      getEnvAny(keys("OTLP_ENDPOINT"), "localhost:4317"),
		TracingSampleRate: getEnvFloatAny(keys("TRACING_SAMPLE_RATE"), 1.0),

		// Multi-instance configuration
		LeaderElectionEnabled: getEnvBoolAny(keys("LEADER_ELECTION_ENABLED"), false),
		RedisAddr:             getEnvAny(keys("REDIS_ADDR"), "localhost:6379"),
		RedisPassword:         getEnvAny(keys("REDIS_PASSWORD"), ""),
		RedisDB:               getEnvIntAny(keys("REDIS_DB"), 0),
		InstanceID:            getEnvAny(keys("INSTANCE_ID"), ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	switch c.OptionsBackend {
	case OptionsDB:
		if c.DBDSN == "" {
			return fmt.Errorf("PUH_DB_DSN or DESIGNINK_DB_DSN must be provided for the db options backend")
		}
	case OptionsRedis, OptionsMemory:
	default:
		return fmt.Errorf("unsupported options backend %q", c.OptionsBackend)
	}

	if c.HistoryEnabled && c.DBDSN == "" {
		return fmt.Errorf("PUH_DB_DSN must be provided while timer history is enabled")
	}

	if c.LockBackend != LockLocal && c.LockBackend != LockRedis {
		return fmt.Errorf("unsupported lock backend %q", c.LockBackend)
	}

	if c.PackageStorage != PackageStorageFS && c.PackageStorage != PackageStorageS3 {
		return fmt.Errorf("unsupported package storage %q", c.PackageStorage)
	}
	if c.PackageStorage == PackageStorageS3 && c.S3Bucket == "" {
		return fmt.Errorf("PUH_S3_BUCKET must be provided when package storage is s3")
	}

	if c.NonceSecret == "" {
		return fmt.Errorf("PUH_NONCE_SECRET or DESIGNINK_NONCE_SECRET must be provided")
	}

	if (c.SSLKey == "") != (c.SSLIV == "") {
		return fmt.Errorf("PUH_SSL_KEY and PUH_SSL_IV must be set together")
	}

	if _, err := cron.ParseStandard(c.DriverSchedule); err != nil {
		return fmt.Errorf("invalid PUH_DRIVER_SCHEDULE %q: %w", c.DriverSchedule, err)
	}
	if c.TimerLockTTL <= 0 {
		return fmt.Errorf("PUH_TIMER_LOCK_TTL_SECONDS must be positive")
	}

	if strings.EqualFold(c.Environment, "production") {
		if c.AdminTokenHash == "" {
			return fmt.Errorf("PUH_ADMIN_TOKEN_HASH must be set in production")
		}
		if c.OptionsBackend == OptionsMemory {
			return fmt.Errorf("the memory options backend loses timers on restart and is not allowed in production")
		}
	}
	return nil
}

// Production reports whether the process runs in production mode.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// NeedsDatabase reports whether any configured component uses the SQL database.
func (c *Config) NeedsDatabase() bool {
	return c.OptionsBackend == OptionsDB || c.HistoryEnabled
}

// NeedsRedis reports whether any configured component uses Redis.
func (c *Config) NeedsRedis() bool {
	return c.LeaderElectionEnabled || c.OptionsBackend == OptionsRedis || c.LockBackend == LockRedis
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":             "use PUH_ENV (or DESIGNINK_ENV)",
		"DB_DSN":                  "use PUH_DB_DSN (or DESIGNINK_DB_DSN)",
		"REDIS_ADDR":              "use PUH_REDIS_ADDR (or DESIGNINK_REDIS_ADDR)",
		"NATS_URL":                "use PUH_NATS_URL (or DESIGNINK_NATS_URL)",
		"LEADER_ELECTION_ENABLED": "use PUH_LEADER_ELECTION_ENABLED",
		"TRACING_ENABLED":         "use PUH_TRACING_ENABLED (or DESIGNINK_TRACING_ENABLED)",
		"OTLP_ENDPOINT":           "use PUH_OTLP_ENDPOINT (or DESIGNINK_OTLP_ENDPOINT)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// keys returns the primary and legacy environment names of a setting.
func keys(name string) []string {
	return []string{"PUH_" + name, "DESIGNINK_" + name}
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
