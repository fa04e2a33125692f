package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/petalrules"
)

const instrumentationName = "github.com/petal-labs/petalrules"

// Config configures Setup.
type Config struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string

	// Endpoint is the OTLP/HTTP collector host:port. Empty disables export;
	// spans are still created so trace ids appear in events.
	Endpoint string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool

	// MetricReader, when set, receives the evaluation metrics.
	MetricReader sdkmetric.Reader

	// SpanExporter overrides the OTLP exporter. Used by tests.
	SpanExporter sdktrace.SpanExporter
}

// Telemetry owns the providers created by Setup.
type Telemetry struct {
	Tracing *TracingHandler
	Metrics *MetricsHandler

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Setup creates tracer and meter providers and the handlers that feed them.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "petalrules"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	exporter := cfg.SpanExporter
	if exporter == nil && cfg.Endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otel: create OTLP exporter: %w", err)
		}
		exporter = exp
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.MetricReader != nil {
		mpOpts = append(mpOpts, sdkmetric.WithReader(cfg.MetricReader))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)

	metrics, err := NewMetricsHandler(mp.Meter(instrumentationName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("otel: create metrics: %w", err)
	}

	return &Telemetry{
		Tracing: NewTracingHandler(tp.Tracer(instrumentationName)),
		Metrics: metrics,
		tp:      tp,
		mp:      mp,
	}, nil
}

// Handler returns an event handler that feeds the tracing and metrics
// handlers and then next, with trace ids added to next's events. next may
// be nil.
func (t *Telemetry) Handler(next petalrules.EventHandler) petalrules.EventHandler {
	var enriched petalrules.EventHandler
	if next != nil {
		enriched = EnrichHandler(next, t.Tracing)
	}
	return func(e petalrules.Event) {
		// The evaluation span must exist while next sees the event, so it
		// opens before and closes after.
		finished := e.Kind == petalrules.EventEvalFinished
		if !finished {
			t.Tracing.Handle(e)
		}
		if enriched != nil {
			enriched(e)
		}
		if finished {
			t.Tracing.Handle(e)
		}
		t.Metrics.Handle(e)
	}
}

// ForceFlush exports all finished spans.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	return errors.Join(t.tp.ForceFlush(ctx), t.mp.ForceFlush(ctx))
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.tp.Shutdown(ctx), t.mp.Shutdown(ctx))
}
