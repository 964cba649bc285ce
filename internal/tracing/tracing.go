package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/ffrec/pkg/logging"
)

// Config holds the tracing configuration
type Config struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	ServiceName    string  `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	ServiceVersion string  `mapstructure:"service_version" yaml:"service_version" json:"service_version"`
	Environment    string  `mapstructure:"environment" yaml:"environment" json:"environment"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint" json:"otlp_endpoint"` // host:port of an OTLP HTTP collector
	Insecure       bool    `mapstructure:"insecure" yaml:"insecure" json:"insecure"`
	SampleRatio    float64 `mapstructure:"sample_ratio" yaml:"sample_ratio" json:"sample_ratio"`
}

// Provider wraps the OpenTelemetry trace provider
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// InitTracer initializes OpenTelemetry tracing
func InitTracer(ctx context.Context, cfg Config, logger *logging.Logger) (*Provider, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	if !cfg.Enabled {
		logger.Debug("Tracing disabled")
		// No exporter: spans are created but never leave the process
		tp := sdktrace.NewTracerProvider()
		return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
	}

	logger.Info("Initializing OpenTelemetry tracing", map[string]interface{}{
		"service":  cfg.ServiceName,
		"endpoint": cfg.OTLPEndpoint,
	})

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
}

// NewProvider wraps an existing SDK provider, mostly for tests
func NewProvider(tp *sdktrace.TracerProvider, name string) *Provider {
	return &Provider{tp: tp, tracer: tp.Tracer(name)}
}

// Shutdown flushes pending spans and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the tracer instance
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}
