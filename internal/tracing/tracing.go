// Package tracing sets up OpenTelemetry spans around the daemon's three
// most expensive operations: a scheduler evaluation tick, a vision
// Evaluate call, and a journal write. A Config-driven Provider wraps a
// stdouttrace/otlptracegrpc exporter choice, falling back to a no-op
// tracer when disabled.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
)

// Provider wraps the configured TracerProvider, or a zero-overhead no-op
// one when tracing is disabled.
type Provider struct {
	sdk     *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

// New builds a Provider from cfg, selecting "stdout" or "otlp" export.
func New(cfg config.TracingConfig) (*Provider, error) {
	if !cfg.Enabled {
		t := noop.NewTracerProvider().Tracer("noop")
		return &Provider{tracer: t}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		exporter, err = otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	default:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s exporter: %w", cfg.Exporter, err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "waitkeeperd"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(sdk)

	return &Provider{sdk: sdk, tracer: sdk.Tracer(serviceName), enabled: true}, nil
}

// Tracer returns the provider's tracer, safe to call even when disabled.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Enabled reports whether spans are actually exported.
func (p *Provider) Enabled() bool { return p.enabled }

// Shutdown flushes and stops the provider. No-op when disabled.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
