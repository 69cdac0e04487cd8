// Package tracing installs the global OpenTelemetry tracer provider used by
// flushgate roles.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fluxorio/flushgate/pkg/config"
)

// Config configures trace export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Exporter is one of "none", "stdout", "jaeger" or "zipkin".
	Exporter string
	// Endpoint is the collector URL for jaeger and zipkin.
	Endpoint string
	// SampleRate is the fraction of root spans sampled. Zero means all.
	SampleRate float64

	// Writer receives stdout exporter output. Default: os.Stdout.
	Writer io.Writer
}

// FromConfig maps the file/env tracing section onto a Config.
func FromConfig(c config.TracingConfig, version string) Config {
	return Config{
		ServiceName:    c.ServiceName,
		ServiceVersion: version,
		Exporter:       c.Exporter,
		Endpoint:       c.Endpoint,
		SampleRate:     c.SampleRate,
	}
}

// ShutdownFunc flushes buffered spans and stops the provider.
type ShutdownFunc func(context.Context) error

var initialized atomic.Bool

// IsInitialized reports whether Initialize installed a real provider.
func IsInitialized() bool { return initialized.Load() }

// Initialize builds the exporter named by cfg and installs a tracer provider
// globally. With exporter "none" it installs nothing and returns a no-op shutdown.
func Initialize(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	exp, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName(cfg)),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate(cfg)))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	initialized.Store(true)

	return func(ctx context.Context) error {
		defer initialized.Store(false)
		return tp.Shutdown(ctx)
	}, nil
}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "none":
		return nil, nil
	case "stdout":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case "jaeger":
		if cfg.Endpoint == "" {
			return jaeger.New(jaeger.WithCollectorEndpoint())
		}
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	case "zipkin":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("zipkin exporter requires an endpoint")
		}
		return zipkin.New(cfg.Endpoint)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

func serviceName(cfg Config) string {
	if cfg.ServiceName == "" {
		return "flushgate"
	}
	return cfg.ServiceName
}

func sampleRate(cfg Config) float64 {
	switch {
	case cfg.SampleRate <= 0:
		return 1
	case cfg.SampleRate > 1:
		return 1
	default:
		return cfg.SampleRate
	}
}
