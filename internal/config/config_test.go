package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PUH_NONCE_SECRET", "supersecret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite || cfg.OptionsBackend != OptionsDB {
		t.Fatalf("unexpected backends: %s / %s", cfg.DBBackend, cfg.OptionsBackend)
	}
	if cfg.DriverSchedule != "@every 1m" {
		t.Fatalf("unexpected driver schedule: %q", cfg.DriverSchedule)
	}
	if cfg.UpdateTimeout != 12*time.Second || cfg.DownloadTimeout != 300*time.Second {
		t.Fatalf("unexpected timeouts: %s / %s", cfg.UpdateTimeout, cfg.DownloadTimeout)
	}
	if cfg.NeedsRedis() {
		t.Fatal("default config should not need Redis")
	}
	if !cfg.NeedsDatabase() || cfg.HistoryRetention != 30*24*time.Hour {
		t.Fatalf("unexpected history settings: %v / %s", cfg.NeedsDatabase(), cfg.HistoryRetention)
	}
}

func TestNeedsDatabase(t *testing.T) {
	t.Setenv("PUH_NONCE_SECRET", "supersecret")
	t.Setenv("PUH_OPTIONS_BACKEND", "memory")
	t.Setenv("PUH_HISTORY_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.NeedsDatabase() {
		t.Fatal("memory options without history should not need a database")
	}
}

func TestLoadReadsLegacyPrefix(t *testing.T) {
	t.Setenv("DESIGNINK_NONCE_SECRET", "legacy-secret")
	t.Setenv("DESIGNINK_HTTP_PORT", "9090")
	t.Setenv("PUH_HTTP_PORT", "8181")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.NonceSecret != "legacy-secret" {
		t.Fatalf("unexpected nonce secret: %q", cfg.NonceSecret)
	}
	if cfg.HTTPPort != 8181 {
		t.Fatalf("primary key should win over legacy, got port %d", cfg.HTTPPort)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("PUH_NONCE_SECRET", "supersecret")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing nonce secret", env: map[string]string{"PUH_NONCE_SECRET": ""}},
		{name: "unknown db backend", env: map[string]string{"PUH_DB_BACKEND": "oracle"}},
		{name: "unknown options backend", env: map[string]string{"PUH_OPTIONS_BACKEND": "etcd"}},
		{name: "s3 without bucket", env: map[string]string{"PUH_PACKAGE_STORAGE": "s3"}},
		{name: "key without iv", env: map[string]string{"PUH_SSL_KEY": "k"}},
		{name: "bad schedule", env: map[string]string{"PUH_DRIVER_SCHEDULE": "sometimes"}},
		{name: "production without admin token", env: map[string]string{"PUH_ENV": "production"}},
		{name: "production memory options", env: map[string]string{
			"PUH_ENV":              "production",
			"PUH_ADMIN_TOKEN_HASH": "$2a$10$abcdefghijklmnopqrstuv",
			"PUH_OPTIONS_BACKEND":  "memory",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PUH_NONCE_SECRET", "supersecret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected config load to fail")
			}
		})
	}
}
