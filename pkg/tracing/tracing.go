// Package tracing wires an OpenTelemetry tracer provider for the
// job-generate/update-apply round trips the dispatcher traces and the
// drop-slave call the registry traces, following
// zjrosen-perles's stdouttrace-based Provider (a development-friendly
// exporter that needs no external collector).
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the tracing subsystem.
type Config struct {
	// Enabled controls whether spans are exported. When false, no exporter
	// is set up and the global tracer provider is left as it was.
	Enabled     bool
	ServiceName string
}

// Provider wraps the OpenTelemetry TracerProvider. The dispatcher and the
// registry do not use Provider.Tracer: they call otel.Tracer, which picks
// up the provider NewProvider installs globally when tracing is enabled.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

// NewProvider creates a Provider. A disabled config gets a provider with no
// exporter and installs nothing globally, so the otel.Tracer calls in the
// dispatcher and registry stay on the default no-op provider without an
// `if tracing.Enabled` branch of their own.
func NewProvider(cfg Config) (*Provider, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "masterd"
	}

	if !cfg.Enabled {
		noopProvider := sdktrace.NewTracerProvider()
		return &Provider{tracer: noopProvider.Tracer(serviceName), enabled: false}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("tracing: create stdout exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	return &Provider{provider: provider, tracer: provider.Tracer(serviceName), enabled: true}, nil
}

// Tracer returns the configured tracer. Safe to use even when tracing is
// disabled (spans are simply discarded).
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Enabled reports whether spans are actually exported.
func (p *Provider) Enabled() bool { return p.enabled }

// Shutdown flushes pending spans. A no-op provider has nothing to flush.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
