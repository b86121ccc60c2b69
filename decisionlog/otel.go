package decisionlog

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TelemetryAdapter fans decision records out to (a) a persisted trail via
// the persist callback, which receives the record exactly as given (no field
// coercion is done and absent signals are not filled in), and (b) an OTEL
// span tagged with algorithm, mode, final score, threshold, and decision,
// where absent or non-float semantic/graph signals are reported as 0.
type TelemetryAdapter struct {
	tracer  trace.Tracer
	persist func(ctx context.Context, rec Record)
}

// NewTelemetryAdapter builds a TelemetryAdapter. persist may be nil, in
// which case only the OTEL span is emitted.
func NewTelemetryAdapter(tracer trace.Tracer, persist func(ctx context.Context, rec Record)) *TelemetryAdapter {
	return &TelemetryAdapter{tracer: tracer, persist: persist}
}

// LogDecision starts a short-lived span carrying the decision's summary
// fields, then forwards the full record to the persistence callback.
func (t *TelemetryAdapter) LogDecision(ctx context.Context, rec Record) {
	_, span := t.tracer.Start(ctx, "shgat.scorer.decision")
	defer span.End()

	span.SetAttributes(
		attribute.String("shgat.algorithm", rec.Algorithm),
		attribute.String("shgat.mode", rec.Mode),
		attribute.String("shgat.target_type", rec.TargetType),
		attribute.Float64("shgat.final_score", rec.FinalScore),
		attribute.Float64("shgat.threshold", rec.Threshold),
		attribute.String("shgat.decision", rec.Decision),
		attribute.Float64("shgat.semantic_signal", signalFloat(rec.Signals, "semantic")),
		attribute.Float64("shgat.graph_signal", signalFloat(rec.Signals, "graph")),
	)

	if t.persist != nil {
		t.persist(ctx, rec)
	}
}
