// Package observe provides the gateway's observability primitives:
// OpenTelemetry metrics with a Prometheus bridge, tracing helpers, and an
// HTTP middleware that logs and times every request.
//
// Tests should build a [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider]; production code uses [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all gateway metrics.
const meterName = "github.com/zhouzirui/z-meet/backend"

// Metrics holds every metric instrument recorded by the gateway.
type Metrics struct {
	// TokensIssued counts token endpoint outcomes by "status".
	TokensIssued metric.Int64Counter

	// BootstrapDuration tracks the full session bootstrap sequence.
	BootstrapDuration metric.Float64Histogram

	// BootstrapFailures counts aborted bootstraps by "step".
	BootstrapFailures metric.Int64Counter

	// CaptionsUnavailable counts sessions that continued without captions.
	CaptionsUnavailable metric.Int64Counter

	// BotTriggers counts bot trigger attempts by "status".
	BotTriggers metric.Int64Counter

	// TranscriptEntries counts appended transcript entries by "origin".
	TranscriptEntries metric.Int64Counter

	ActiveSessions  metric.Int64UpDownCounter
	ChatConnections metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TokensIssued, err = m.Int64Counter("zmeet.token.issued",
		metric.WithDescription("Token endpoint outcomes by status."),
	); err != nil {
		return nil, err
	}
	if met.BootstrapDuration, err = m.Float64Histogram("zmeet.session.bootstrap.duration",
		metric.WithDescription("Latency of the full session bootstrap sequence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BootstrapFailures, err = m.Int64Counter("zmeet.session.bootstrap.failures",
		metric.WithDescription("Aborted session bootstraps by failing step."),
	); err != nil {
		return nil, err
	}
	if met.CaptionsUnavailable, err = m.Int64Counter("zmeet.session.captions_unavailable",
		metric.WithDescription("Sessions that continued without live captions."),
	); err != nil {
		return nil, err
	}
	if met.BotTriggers, err = m.Int64Counter("zmeet.bot.triggers",
		metric.WithDescription("Bot trigger attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("zmeet.transcript.entries",
		metric.WithDescription("Transcript entries appended by origin."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("zmeet.active_sessions",
		metric.WithDescription("Number of mounted meeting sessions."),
	); err != nil {
		return nil, err
	}
	if met.ChatConnections, err = m.Int64UpDownCounter("zmeet.chat.connections",
		metric.WithDescription("Number of open shared chat connections."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("zmeet.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built from the global
// meter provider on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) RecordToken(ctx context.Context, status string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordBootstrapFailure(ctx context.Context, step string) {
	m.BootstrapFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

func (m *Metrics) RecordBotTrigger(ctx context.Context, status string) {
	m.BotTriggers.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordTranscriptEntry(ctx context.Context, origin string) {
	m.TranscriptEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
}
