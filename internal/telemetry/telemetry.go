// Package telemetry exports build traces and metrics over OTLP. It is opt-in:
// without Start the global no-op providers are used and recording is free.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ErrNoExporter indicates neither the trace nor the metric exporter could be
// created
var ErrNoExporter = errors.New("no telemetry exporter available")

type Options struct {
	ServiceName string
	Version     string
	// Interval between metric exports while a server runs; 30s when zero
	Interval time.Duration
}

// Provider owns the SDK providers installed by Start.
type Provider struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

// Start installs OTLP gRPC exporters for traces and metrics as the global
// providers. Exporters read the standard environment variables such as
// OTEL_EXPORTER_OTLP_ENDPOINT; OTEL_SERVICE_NAME overrides opts.ServiceName.
// Either exporter may fail on its own, which is logged; Start only fails
// when both do.
func Start(ctx context.Context, opts Options) (*Provider, error) {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.Version),
			semconv.ServiceInstanceID(uuid.NewString()),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p := &Provider{}

	traceExporter, traceErr := otlptracegrpc.New(ctx)
	if traceErr == nil {
		p.tracer = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(time.Second)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(p.tracer)
	} else {
		log.Warn().Err(traceErr).Msg("Failed to create trace exporter, continuing without tracing")
	}

	metricExporter, metricErr := otlpmetricgrpc.New(ctx)
	if metricErr == nil {
		p.meter = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(opts.Interval))),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(p.meter)
	} else {
		log.Warn().Err(metricErr).Msg("Failed to create metric exporter, continuing without metrics")
	}

	if traceErr != nil && metricErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoExporter, errors.Join(traceErr, metricErr))
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Debug().
		Str("service", opts.ServiceName).
		Str("version", opts.Version).
		Bool("traces", p.tracer != nil).
		Bool("metrics", p.meter != nil).
		Msg("OpenTelemetry initialized")

	return p, nil
}

// Shutdown flushes pending spans and metrics and stops the exporters. A
// build usually finishes well inside one export interval, so nothing is
// exported unless Shutdown runs before the process exits.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracer != nil {
		if err := p.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace shutdown: %w", err))
		}
	}
	if p.meter != nil {
		if err := p.meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
