package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/plugin_update_helper/internal/config"
	"github.com/friendsincode/plugin_update_helper/internal/logbuffer"
	"github.com/friendsincode/plugin_update_helper/internal/scheduler"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment:    "test",
		HTTPBind:       "127.0.0.1",
		HTTPPort:       0,
		DBBackend:      config.DatabaseSQLite,
		OptionsBackend: config.OptionsMemory,
		DriverSchedule: "@every 1h",
		TimerLockTTL:   time.Minute,
		LockBackend:    config.LockLocal,
		NonceSecret:    "supersecret",
		NonceTTL:       time.Hour,
		UpdateTimeout:  time.Second,
		PackageStorage: config.PackageStorageFS,
		PackageDir:     t.TempDir(),
	}
}

func TestNewServesHealth(t *testing.T) {
	srv, err := New(testConfig(t), logbuffer.New(10), zerolog.Nop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	tests := []struct {
		path string
		want int
	}{
		{path: "/healthz", want: http.StatusOK},
		{path: "/api/v1/health", want: http.StatusOK},
		{path: "/api/v1/timers", want: http.StatusOK},
		{path: "/metrics", want: http.StatusOK},
		{path: "/api/v1/timers/missing", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.HTTPServer().Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}

	rr := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected healthz body: %v", body)
	}
	if _, ok := body["leader"]; ok {
		t.Fatal("leader flag reported without leader election")
	}
}

func TestCoreTickRunsStoredTimer(t *testing.T) {
	ctx := context.Background()
	core, err := NewCore(ctx, testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	t.Cleanup(func() { _ = core.Close() })

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	timer, err := core.Manager().Registry().New(scheduler.VariantInterval, "nightly", scheduler.Options{
		scheduler.OptMultiplier: 1,
		scheduler.OptUnit:       "hour",
		scheduler.OptStart:      scheduler.Options{"date": "2024-01-01", "time": "00:00"},
	}, created)
	if err != nil {
		t.Fatalf("build timer: %v", err)
	}
	timer.AddAction(scheduler.NewAction("announce", map[string]any{"type": "log", "message": "tick"}), false)
	if _, err := core.Manager().Save(ctx, timer, false); err != nil {
		t.Fatalf("save timer: %v", err)
	}

	report, err := core.Driver().TickAt(ctx, created.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Checked != 1 || len(report.Fired) != 1 || report.Fired[0].TimerID != "nightly" {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestNewRecordsHistoryInDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.OptionsBackend = config.OptionsDB
	cfg.DBDSN = "file::memory:"
	cfg.HistoryEnabled = true
	cfg.HistoryRetention = 24 * time.Hour

	srv, err := New(cfg, logbuffer.New(10), zerolog.Nop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	ctx := context.Background()
	timer, err := srv.Manager().Registry().New(scheduler.VariantInterval, "weekly", scheduler.Options{
		scheduler.OptMultiplier: 1,
		scheduler.OptUnit:       "week",
		scheduler.OptStart:      scheduler.Options{"date": "2024-01-01", "time": "08:00"},
	}, time.Now())
	if err != nil {
		t.Fatalf("build timer: %v", err)
	}
	if _, err := srv.Manager().Save(ctx, timer, false); err != nil {
		t.Fatalf("save timer: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rr := httptest.NewRecorder()
		srv.HTTPServer().Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/timers/weekly/history", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("history status = %d: %s", rr.Code, rr.Body.String())
		}
		var body struct {
			Total int64 `json:"total"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode history: %v", err)
		}
		if body.Total > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timer.saved never reached the history table")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
