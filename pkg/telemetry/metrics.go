package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-moderation/pkg/moderation"
	"github.com/polisai/polis-moderation/pkg/policy"
)

const instrumentationName = "github.com/polisai/polis-moderation"

var (
	metricsOnce         sync.Once
	metricsInitErr      error
	evaluationCounter   metric.Int64Counter
	reasonCounter       metric.Int64Counter
	policyErrorCounter  metric.Int64Counter
	evaluationHistogram metric.Float64Histogram
)

// Evaluation captures the fields recorded for one moderation call.
type Evaluation struct {
	Kind        string
	Verdict     moderation.Verdict
	Disposition policy.Disposition
	Duration    time.Duration
	PolicyError bool
}

// Outcome returns "allowed", "empty" or "flagged" for a verdict.
func Outcome(v moderation.Verdict) string {
	switch {
	case v.IsAllowed:
		return "allowed"
	case v.EmptyContent:
		return "empty"
	default:
		return "flagged"
	}
}

// RecordEvaluation emits counters and a latency histogram for one evaluation.
func RecordEvaluation(ctx context.Context, ev Evaluation) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("content.kind", ev.Kind),
		attribute.String("moderation.outcome", Outcome(ev.Verdict)),
		attribute.String("moderation.action", string(ev.Disposition.Action)),
	)
	evaluationCounter.Add(ctx, 1, attrs)

	if ev.Duration > 0 {
		evaluationHistogram.Record(ctx, float64(ev.Duration)/float64(time.Millisecond), attrs)
	}

	for _, r := range ev.Verdict.Reasons {
		reasonCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("content.kind", ev.Kind),
			attribute.String("moderation.category", string(r.Category)),
		))
	}

	if ev.PolicyError {
		policyErrorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("content.kind", ev.Kind)))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(instrumentationName)

		evaluationCounter, metricsInitErr = meter.Int64Counter(
			"moderation.evaluations_total",
			metric.WithDescription("Moderation evaluations partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		reasonCounter, metricsInitErr = meter.Int64Counter(
			"moderation.reasons_total",
			metric.WithDescription("Moderation reasons emitted per category"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		policyErrorCounter, metricsInitErr = meter.Int64Counter(
			"moderation.policy_errors_total",
			metric.WithDescription("Disposition policy evaluations that fell back to the static rules"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		evaluationHistogram, metricsInitErr = meter.Float64Histogram(
			"moderation.evaluation.duration_ms",
			metric.WithDescription("Observed moderation latency including policy evaluation"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordVerdict annotates span with the verdict outcome. Content is never recorded.
func RecordVerdict(span trace.Span, kind string, v moderation.Verdict, d policy.Disposition) {
	if span == nil || !span.IsRecording() {
		return
	}

	categories := v.Categories()
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, string(c))
	}

	span.SetAttributes(
		attribute.String("content.kind", kind),
		attribute.Bool("moderation.allowed", v.IsAllowed),
		attribute.Int("moderation.reasons.count", len(v.Reasons)),
		attribute.StringSlice("moderation.categories", names),
		attribute.String("moderation.action", string(d.Action)),
		attribute.Bool("moderation.reveal_required", d.RevealRequired),
	)

	if !v.IsAllowed {
		span.AddEvent("moderation.flagged")
	}
}
