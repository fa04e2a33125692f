package otel

import (
	"github.com/petal-labs/petalrules"
)

// EnrichHandler wraps an EventHandler so that every event of an evaluation
// with an active span carries "trace_id" and "span_id" payload entries.
// An event is enriched only while its evaluation span is open.
func EnrichHandler(next petalrules.EventHandler, tracing *TracingHandler) petalrules.EventHandler {
	return func(e petalrules.Event) {
		sc := tracing.ActiveSpanContext(e.EvalID)
		if sc.IsValid() {
			e = e.WithPayload("trace_id", sc.TraceID().String()).
				WithPayload("span_id", sc.SpanID().String())
		}
		next(e)
	}
}
