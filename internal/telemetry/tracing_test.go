package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{ServiceName: "updatehelper"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	_, span := StartSpan(context.Background(), "test", "noop")
	AddSpanAttributes(span, map[string]any{"timer_id": "a", "count": 2, "ok": true})
	RecordError(span, errors.New("boom"))
	span.End()
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(TracingMiddleware("updatehelper-test"))
	r.Use(MetricsMiddleware)
	r.Get("/timers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/timers/a", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}
