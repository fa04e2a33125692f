package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/petalrules"
)

// MetricsHandler translates evaluation events into OpenTelemetry metrics.
type MetricsHandler struct {
	evaluations metric.Int64Counter
	diagnostics metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	evals, err := meter.Int64Counter("petalrules.eval.count",
		metric.WithDescription("Number of rule evaluations"),
	)
	if err != nil {
		return nil, err
	}

	diags, err := meter.Int64Counter("petalrules.eval.diagnostics",
		metric.WithDescription("Number of evaluation diagnostics by code"),
	)
	if err != nil {
		return nil, err
	}

	dur, err := meter.Float64Histogram("petalrules.eval.duration",
		metric.WithDescription("Duration of rule evaluation in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		evaluations: evals,
		diagnostics: diags,
		duration:    dur,
	}, nil
}

// Handle processes an evaluation event and records the appropriate metrics.
func (h *MetricsHandler) Handle(e petalrules.Event) {
	ctx := context.Background()
	switch e.Kind {
	case petalrules.EventEvalDiagnostic:
		if e.Diagnostic == nil {
			return
		}
		h.diagnostics.Add(ctx, 1, metric.WithAttributes(
			attribute.String("rule", e.Rule),
			attribute.String("code", e.Diagnostic.Code),
		))
	case petalrules.EventEvalFinished:
		attrs := metric.WithAttributes(
			attribute.String("rule", e.Rule),
			attribute.String("kind", e.ValueKind.String()),
			attribute.Bool("degraded", diagnosticCount(e) > 0),
		)
		h.evaluations.Add(ctx, 1, attrs)
		h.duration.Record(ctx, e.Elapsed.Seconds(), attrs)
	}
}
