package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultOTLPEndpoint = "localhost:4317"

type Options struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is the gRPC collector address. Empty means localhost.
	OTLPEndpoint string
	// Metrics enables the Prometheus exporter and runtime metrics.
	Metrics bool
}

// Providers holds the global trace and meter providers installed by Setup.
type Providers struct {
	// MetricsHandler serves /metrics. Nil unless Options.Metrics is set.
	MetricsHandler http.Handler

	shutdowns []func(context.Context) error
}

// Shutdown flushes and stops every provider, last installed first.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdowns) - 1; i >= 0; i-- {
		errs = append(errs, p.shutdowns[i](ctx))
	}
	return errors.Join(errs...)
}

// Setup installs the global tracer provider with W3C trace context and
// baggage propagation, which Kafka headers and outgoing HTTP calls rely on,
// and optionally a Prometheus backed meter provider.
func Setup(ctx context.Context, opts Options) (*Providers, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(opts.ServiceVersion),
	)

	p := &Providers{}

	tp, err := newTracerProvider(ctx, opts.OTLPEndpoint, res)
	if err != nil {
		return nil, fmt.Errorf("init tracer provider: %w", err)
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	p.shutdowns = append(p.shutdowns, tp.Shutdown)

	if opts.Metrics {
		handler, shutdown, err := initMeterProvider(res)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("init meter provider: %w", err)
		}
		p.MetricsHandler = handler
		p.shutdowns = append(p.shutdowns, shutdown)
	}

	return p, nil
}

func newTracerProvider(ctx context.Context, endpoint string, res *resource.Resource) (*trace.TracerProvider, error) {
	if endpoint == "" {
		endpoint = defaultOTLPEndpoint
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	), nil
}
