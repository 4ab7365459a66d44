// Package tracing configures the process-wide OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/goclaw/hmem/config"
	"github.com/goclaw/hmem/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace/noop"
)

// ShutdownFunc flushes pending spans and releases the provider.
type ShutdownFunc func(ctx context.Context) error

// Service describes the process in the exported resource.
type Service struct {
	Name        string
	Version     string
	Environment string
}

func (s Service) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(s.Name),
		semconv.ServiceVersion(s.Version),
	}
	if s.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment.name", s.Environment))
	}
	return attrs
}

// onExportFailure is called for every failed batch with the running total of
// spans lost so far.
var onExportFailure = func(err error, endpoint string, spans int, lost int64) {
	logger.Warn("trace export failed",
		"error", err,
		"endpoint", endpoint,
		"spans", spans,
		"spans_lost_total", lost,
	)
}

var newOTLPExporter = func(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(normalizeEndpoint(cfg.Endpoint)),
		otlptracegrpc.WithTimeout(cfg.Timeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// lossyExporter swallows delivery errors so a collector outage never reaches
// the batch processor, and counts the spans it lost.
type lossyExporter struct {
	sdktrace.SpanExporter
	endpoint string
	lost     atomic.Int64
}

func (e *lossyExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if err := e.SpanExporter.ExportSpans(ctx, spans); err != nil {
		onExportFailure(err, e.endpoint, len(spans), e.lost.Add(int64(len(spans))))
	}
	return nil
}

// checkConfig rejects settings Init cannot run with.
func checkConfig(cfg config.TracingConfig) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Exporter)) {
	case "otlpgrpc":
	case "":
		return errors.New("tracing exporter cannot be empty")
	default:
		return fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
	if normalizeEndpoint(cfg.Endpoint) == "" {
		return errors.New("tracing endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		return errors.New("tracing timeout must be > 0")
	}
	return nil
}

// Init installs the global tracer provider and propagator. Disabled tracing
// installs a no-op provider and a no-op ShutdownFunc.
func Init(ctx context.Context, cfg config.TracingConfig, svc Service) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	inner, err := newOTLPExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create tracing exporter: %w", err)
	}
	exp := &lossyExporter{SpanExporter: inner, endpoint: normalizeEndpoint(cfg.Endpoint)}

	res, err := resource.New(ctx, resource.WithAttributes(svc.attributes()...))
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
		var errs []error
		if err := tp.ForceFlush(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("force flush tracing provider: %w", err))
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing provider: %w", err))
		}
		return errors.Join(errs...)
	}, nil
}

func selectSampler(cfg config.TracingConfig) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(cfg.SampleRate)
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
}

// normalizeEndpoint strips scheme and path from URL-style endpoints; the
// gRPC exporter wants host:port.
func normalizeEndpoint(endpoint string) string {
	raw := strings.TrimSpace(endpoint)
	if !strings.Contains(raw, "://") {
		return raw
	}
	if parsed, err := url.Parse(raw); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return raw
}
