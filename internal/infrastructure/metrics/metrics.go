// Package metrics holds the OpenTelemetry instruments shared by the service.
// Instruments come from the global meter provider unless one is supplied,
// so they are no-ops until an SDK provider is installed.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/agrimarket/bargaining-hub"

// Outcome labels for action counters.
const (
	OutcomeOK        = "ok"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

// Metrics bundles the instruments.
type Metrics struct {
	actions          metric.Int64Counter
	actionDuration   metric.Float64Histogram
	fanoutDelivered  metric.Int64Counter
	fanoutDropped    metric.Int64Counter
	subscriptions    metric.Int64UpDownCounter
	outboxRelayed    metric.Int64Counter
	alertsDispatched metric.Int64Counter
	enrichFallbacks  metric.Int64Counter
}

// New creates the instruments on provider, or on the global provider when nil.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)

	m := &Metrics{}
	var err error
	if m.actions, err = meter.Int64Counter("negotiation.actions",
		metric.WithDescription("Negotiation actions by kind and outcome"),
		metric.WithUnit("{action}")); err != nil {
		return nil, fmt.Errorf("create actions counter: %w", err)
	}
	if m.actionDuration, err = meter.Float64Histogram("negotiation.action.duration",
		metric.WithDescription("Time spent committing a negotiation action"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0)); err != nil {
		return nil, fmt.Errorf("create action duration histogram: %w", err)
	}
	if m.fanoutDelivered, err = meter.Int64Counter("realtime.events.delivered",
		metric.WithDescription("Events handed to subscribers"),
		metric.WithUnit("{event}")); err != nil {
		return nil, fmt.Errorf("create delivered counter: %w", err)
	}
	if m.fanoutDropped, err = meter.Int64Counter("realtime.events.dropped",
		metric.WithDescription("Events dropped on full subscriber buffers"),
		metric.WithUnit("{event}")); err != nil {
		return nil, fmt.Errorf("create dropped counter: %w", err)
	}
	if m.subscriptions, err = meter.Int64UpDownCounter("realtime.subscriptions",
		metric.WithDescription("Open realtime subscriptions"),
		metric.WithUnit("{subscription}")); err != nil {
		return nil, fmt.Errorf("create subscriptions gauge: %w", err)
	}
	if m.outboxRelayed, err = meter.Int64Counter("outbox.events.relayed",
		metric.WithDescription("Outbox rows published"),
		metric.WithUnit("{event}")); err != nil {
		return nil, fmt.Errorf("create outbox counter: %w", err)
	}
	if m.alertsDispatched, err = meter.Int64Counter("notification.alerts",
		metric.WithDescription("Alerts emitted by rule"),
		metric.WithUnit("{alert}")); err != nil {
		return nil, fmt.Errorf("create alerts counter: %w", err)
	}
	if m.enrichFallbacks, err = meter.Int64Counter("negotiation.enrichment.fallbacks",
		metric.WithDescription("List rows enriched with a placeholder"),
		metric.WithUnit("{row}")); err != nil {
		return nil, fmt.Errorf("create enrichment counter: %w", err)
	}
	return m, nil
}

// Default returns instruments on the global provider. It never fails in
// practice; on error it falls back to a zero Metrics, whose methods are no-ops.
func Default() *Metrics {
	m, err := New(nil)
	if err != nil {
		return &Metrics{}
	}
	return m
}

func (m *Metrics) Action(ctx context.Context, action, outcome string, seconds float64) {
	if m == nil || m.actions == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("action", action), attribute.String("outcome", outcome))
	m.actions.Add(ctx, 1, attrs)
	m.actionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("action", action)))
}

func (m *Metrics) Delivered(ctx context.Context, n int) {
	if m == nil || m.fanoutDelivered == nil || n == 0 {
		return
	}
	m.fanoutDelivered.Add(ctx, int64(n))
}

func (m *Metrics) Dropped(ctx context.Context, n int) {
	if m == nil || m.fanoutDropped == nil || n == 0 {
		return
	}
	m.fanoutDropped.Add(ctx, int64(n))
}

func (m *Metrics) SubscriptionDelta(ctx context.Context, delta int64) {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.Add(ctx, delta)
}

func (m *Metrics) Relayed(ctx context.Context, n int) {
	if m == nil || m.outboxRelayed == nil || n == 0 {
		return
	}
	m.outboxRelayed.Add(ctx, int64(n))
}

func (m *Metrics) Alert(ctx context.Context, rule string) {
	if m == nil || m.alertsDispatched == nil {
		return
	}
	m.alertsDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

func (m *Metrics) EnrichmentFallback(ctx context.Context, kind string, n int) {
	if m == nil || m.enrichFallbacks == nil || n == 0 {
		return
	}
	m.enrichFallbacks.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}
