// Package otel provides OpenTelemetry integration for PetalRules evaluation
// events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/petalrules"
)

// TracingHandler translates evaluation events into OpenTelemetry spans: one
// span per evaluation, with each diagnostic recorded as a span event.
type TracingHandler struct {
	tracer trace.Tracer

	mu    sync.RWMutex
	spans map[string]trace.Span // evalID -> span
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from evaluation events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer: tracer,
		spans:  make(map[string]trace.Span),
	}
}

// Handle processes an evaluation event and creates, annotates or ends the
// evaluation span accordingly.
func (h *TracingHandler) Handle(e petalrules.Event) {
	switch e.Kind {
	case petalrules.EventEvalStarted:
		h.handleStarted(e)
	case petalrules.EventEvalDiagnostic:
		h.handleDiagnostic(e)
	case petalrules.EventEvalFinished:
		h.handleFinished(e)
	}
}

func (h *TracingHandler) handleStarted(e petalrules.Event) {
	_, span := h.tracer.Start(context.Background(), "eval:"+e.Rule,
		trace.WithAttributes(
			attribute.String("petalrules.eval_id", e.EvalID),
			attribute.String("petalrules.rule", e.Rule),
			attribute.String("petalrules.kind", e.ValueKind.String()),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.spans[e.EvalID] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleDiagnostic(e petalrules.Event) {
	h.mu.RLock()
	span, ok := h.spans[e.EvalID]
	h.mu.RUnlock()
	if !ok || e.Diagnostic == nil {
		return
	}

	d := e.Diagnostic
	span.AddEvent("diagnostic",
		trace.WithAttributes(
			attribute.String("petalrules.code", d.Code),
			attribute.String("petalrules.message", d.Message),
			attribute.String("petalrules.node", d.Node),
			attribute.Int("petalrules.depth", d.Depth),
		),
		trace.WithTimestamp(e.Time),
	)
}

func (h *TracingHandler) handleFinished(e petalrules.Event) {
	h.mu.Lock()
	span, ok := h.spans[e.EvalID]
	if ok {
		delete(h.spans, e.EvalID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	diags := diagnosticCount(e)
	span.SetAttributes(
		attribute.String("petalrules.duration", e.Elapsed.String()),
		attribute.Int("petalrules.diagnostics", diags),
	)
	if diags > 0 {
		span.SetStatus(codes.Error, "evaluation degraded")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the span context of an in-flight evaluation, or
// an invalid span context if none is active.
func (h *TracingHandler) ActiveSpanContext(evalID string) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if span, ok := h.spans[evalID]; ok {
		return span.SpanContext()
	}
	return trace.SpanContext{}
}

// diagnosticCount reads the diagnostic count from an eval.finished payload.
// Payloads read back from a store carry JSON numbers.
func diagnosticCount(e petalrules.Event) int {
	switch n := e.Payload["diagnostics"].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
