package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumWith(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: unexpected data type %T", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestRecordHelpersUseAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToken(ctx, "ok")
	m.RecordToken(ctx, "ok")
	m.RecordToken(ctx, "error")
	m.RecordBootstrapFailure(ctx, "join")
	m.RecordBotTrigger(ctx, "ok")
	m.RecordTranscriptEntry(ctx, "caption")
	m.RecordTranscriptEntry(ctx, "bot")

	rm := collect(t, reader)

	cases := []struct {
		metric, key, value string
		want               int64
	}{
		{"zmeet.token.issued", "status", "ok", 2},
		{"zmeet.token.issued", "status", "error", 1},
		{"zmeet.session.bootstrap.failures", "step", "join", 1},
		{"zmeet.bot.triggers", "status", "ok", 1},
		{"zmeet.transcript.entries", "origin", "caption", 1},
		{"zmeet.transcript.entries", "origin", "bot", 1},
	}
	for _, tc := range cases {
		got := findMetric(rm, tc.metric)
		if got == nil {
			t.Fatalf("metric %s not found", tc.metric)
		}
		if v := sumWith(t, got, tc.key, tc.value); v != tc.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tc.metric, tc.key, tc.value, v, tc.want)
		}
	}
}

func TestActiveSessionsUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	got := findMetric(collect(t, reader), "zmeet.active_sessions")
	if got == nil {
		t.Fatal("zmeet.active_sessions not found")
	}
	sum := got.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected data points %+v", sum.DataPoints)
	}
}
