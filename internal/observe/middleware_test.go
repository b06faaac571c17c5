package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

func TestMiddlewareSetsCorrelationID(t *testing.T) {
	withTracer(t)
	m, _ := newTestMetrics(t)

	var captured string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if len(captured) != 32 {
		t.Fatalf("expected 32-char trace id, got %q", captured)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != captured {
		t.Fatalf("X-Correlation-ID = %q, want %q", got, captured)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	exp := withTracer(t)
	m, reader := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Get("/api/sessions/{sessionID}/transcript", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/abc/transcript", nil))

	got := findMetric(collect(t, reader), "zmeet.http.request.duration")
	if got == nil {
		t.Fatal("http duration metric not recorded")
	}
	hist := got.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("expected one data point, got %d", len(hist.DataPoints))
	}
	route, _ := hist.DataPoints[0].Attributes.Value(attribute.Key("route"))
	if route.AsString() != "/api/sessions/{sessionID}/transcript" {
		t.Fatalf("unexpected route attribute %q", route.AsString())
	}

	if spans := exp.GetSpans(); len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
}
