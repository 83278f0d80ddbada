package orchestration

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeAbandoned = "abandoned"
)

type replyMetrics struct {
	scheduled metric.Int64Counter
	finished  metric.Int64Counter
	gateWait  metric.Float64Histogram
	duration  metric.Float64Histogram
}

func newReplyMetrics() replyMetrics {
	fallback := noop.Meter{}
	m := replyMetrics{}

	var err error
	if m.scheduled, err = meter.Int64Counter("phonio.replies.scheduled",
		metric.WithDescription("Reply generation requests scheduled"),
	); err != nil {
		m.scheduled, _ = fallback.Int64Counter("phonio.replies.scheduled")
	}
	if m.finished, err = meter.Int64Counter("phonio.replies.finished",
		metric.WithDescription("Reply generation requests that left the gate, by outcome"),
	); err != nil {
		m.finished, _ = fallback.Int64Counter("phonio.replies.finished")
	}
	if m.gateWait, err = meter.Float64Histogram("phonio.replies.gate_wait",
		metric.WithDescription("Time a reply request waited for the reply gate"),
		metric.WithUnit("s"),
	); err != nil {
		m.gateWait, _ = fallback.Float64Histogram("phonio.replies.gate_wait")
	}
	if m.duration, err = meter.Float64Histogram("phonio.replies.duration",
		metric.WithDescription("Time the language model took to deliver a reply"),
		metric.WithUnit("s"),
	); err != nil {
		m.duration, _ = fallback.Float64Histogram("phonio.replies.duration")
	}

	return m
}

func (m replyMetrics) recordScheduled(ctx context.Context, description string) {
	m.scheduled.Add(ctx, 1, metric.WithAttributes(attribute.String("reply.description", description)))
}

func (m replyMetrics) recordGateWait(ctx context.Context, waited time.Duration) {
	m.gateWait.Record(ctx, waited.Seconds())
}

func (m replyMetrics) recordFinished(ctx context.Context, description, outcome string, took time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("reply.description", description),
		attribute.String("reply.outcome", outcome),
	)
	m.finished.Add(ctx, 1, attrs)
	if outcome != outcomeAbandoned {
		m.duration.Record(ctx, took.Seconds(), attrs)
	}
}
