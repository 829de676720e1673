// Package telemetry configures process-wide OpenTelemetry tracing.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope used by memoir spans.
const TracerName = "github.com/flemzord/memoir"

// Sampler names.
const (
	SamplerAlwaysOn  = "always_on"
	SamplerAlwaysOff = "always_off"
	SamplerRatio     = "ratio"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// Config configures tracing.
type Config struct {
	Enabled    bool              `yaml:"enabled" json:"enabled"`
	Endpoint   string            `yaml:"endpoint" json:"endpoint"`
	Insecure   bool              `yaml:"insecure" json:"insecure"`
	Headers    map[string]string `yaml:"headers" json:"headers"`
	Timeout    time.Duration     `yaml:"timeout" json:"timeout"`
	Sampler    string            `yaml:"sampler" json:"sampler" validate:"omitempty,oneof=always_on always_off ratio"`
	SampleRate float64           `yaml:"sample_rate" json:"sample_rate" validate:"gte=0,lte=1"`
}

// Validate checks an enabled configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if strings.TrimSpace(c.Endpoint) == "" {
		errs = append(errs, errors.New("tracing endpoint cannot be empty"))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("tracing timeout must not be negative"))
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing sample rate must be in [0, 1], got %v", c.SampleRate))
	}
	return errors.Join(errs...)
}

var newExporter = func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(normalizeEndpoint(cfg))}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(cfg.Timeout))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return otlptracehttp.New(ctx, opts...)
}

// isolatingExporter logs export failures instead of surfacing them to the
// batch processor.
type isolatingExporter struct {
	exporter sdktrace.SpanExporter
	endpoint string
	logger   *slog.Logger
}

func (e *isolatingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if err := e.exporter.ExportSpans(ctx, spans); err != nil {
		e.logger.Warn("tracing exporter failed", "error", err, "endpoint", e.endpoint, "span_count", len(spans))
	}
	return nil
}

func (e *isolatingExporter) Shutdown(ctx context.Context) error {
	return e.exporter.Shutdown(ctx)
}

// Init installs the global tracer provider. When tracing is disabled a no-op
// provider is installed and the returned ShutdownFunc does nothing.
func Init(ctx context.Context, cfg Config, serviceName, serviceVersion string, logger *slog.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create tracing exporter: %w", err)
	}
	exp = &isolatingExporter{exporter: exp, endpoint: cfg.Endpoint, logger: logger}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(selectSampler(cfg)),
	)
	otel.SetTracerProvider(tp)

	return func(shutdownCtx context.Context) error {
		if err := tp.ForceFlush(shutdownCtx); err != nil {
			_ = tp.Shutdown(shutdownCtx)
			return fmt.Errorf("force flush tracing provider: %w", err)
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown tracing provider: %w", err)
		}
		return nil
	}, nil
}

// Tracer returns the memoir tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

func selectSampler(cfg Config) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case SamplerAlwaysOn:
		return sdktrace.AlwaysSample()
	case SamplerAlwaysOff:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
}

// normalizeEndpoint turns a bare host:port into a URL, choosing the scheme
// from Insecure.
func normalizeEndpoint(cfg Config) string {
	raw := strings.TrimSpace(cfg.Endpoint)
	if strings.Contains(raw, "://") {
		return raw
	}
	scheme := "https://"
	if cfg.Insecure {
		scheme = "http://"
	}
	return scheme + raw
}
