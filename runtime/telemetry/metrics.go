package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records runtime instrumentation through OTel. Instruments are
// registered on the global MeterProvider; configure it before constructing
// (typically via clue.ConfigureOpenTelemetry or OTEL_* environment
// variables). The zero value is unusable; use NewMetrics.
type Metrics struct {
	ticks      metric.Int64Counter
	claimed    metric.Int64Counter
	dispatched metric.Int64Counter
	accepted   metric.Int64Counter
	turns      metric.Int64Counter
	turnTime   metric.Float64Histogram
}

// NewMetrics registers the runtime instruments on the global MeterProvider.
func NewMetrics() *Metrics {
	meter := otel.Meter("goa.design/agentd/runtime")
	m := &Metrics{}
	m.ticks, _ = meter.Int64Counter("scheduler.ticks")
	m.claimed, _ = meter.Int64Counter("scheduler.tickets_claimed")
	m.dispatched, _ = meter.Int64Counter("scheduler.tickets_dispatched")
	m.accepted, _ = meter.Int64Counter("scheduler.tickets_accepted")
	m.turns, _ = meter.Int64Counter("turns.events")
	m.turnTime, _ = meter.Float64Histogram("turn.duration", metric.WithUnit("s"))
	return m
}

// RecordTick records the outcome of one dispatch tick.
func (m *Metrics) RecordTick(ctx context.Context, claimed, dispatched, accepted int) {
	if m == nil {
		return
	}
	m.ticks.Add(ctx, 1)
	m.claimed.Add(ctx, int64(claimed))
	m.dispatched.Add(ctx, int64(dispatched))
	m.accepted.Add(ctx, int64(accepted))
}

// RecordTurn records a terminal turn outcome and its duration.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.turnTime.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}
