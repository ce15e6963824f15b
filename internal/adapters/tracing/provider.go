package tracing

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/eleven-am/gantry/internal/domain"
)

// TracingProvider hands out OpenTelemetry tracers. When tracing is disabled
// every tracer is a no-op, so callers never need to check.
type TracingProvider struct {
	mu       sync.Mutex
	config   domain.TracingConfig
	logger   *slog.Logger
	sdk      *sdktrace.TracerProvider
	fallback trace.TracerProvider
	stopped  bool
}

type Option func(*options)

type options struct {
	writer   io.Writer
	exporter sdktrace.SpanExporter
	global   bool
}

// WithWriter sends exported spans to w instead of stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithExporter replaces the stdout exporter entirely.
func WithExporter(exporter sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exporter }
}

// AsGlobal installs the provider as the otel global tracer provider, which
// otelhttp picks up.
func AsGlobal() Option {
	return func(o *options) { o.global = true }
}

func NewTracingProvider(config domain.TracingConfig, logger *slog.Logger, opts ...Option) (*TracingProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tp := &TracingProvider{
		config:   config,
		logger:   logger.With("component", "tracing"),
		fallback: noop.NewTracerProvider(),
	}
	if !config.Enabled {
		return tp, nil
	}

	o := options{writer: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	exporter := o.exporter
	if exporter == nil {
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(o.writer))
		if err != nil {
			return nil, err
		}
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", config.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	tp.sdk = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	if o.global {
		otel.SetTracerProvider(tp.sdk)
	}

	tp.logger.Info("tracing initialized", "service", config.ServiceName)
	return tp, nil
}

func (tp *TracingProvider) Tracer(name string) trace.Tracer {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.sdk == nil || tp.stopped {
		return tp.fallback.Tracer(name)
	}
	return tp.sdk.Tracer(name)
}

func (tp *TracingProvider) Enabled() bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.sdk != nil && !tp.stopped
}

func (tp *TracingProvider) ForceFlush(ctx context.Context) error {
	if tp.sdk == nil {
		return nil
	}
	return tp.sdk.ForceFlush(ctx)
}

func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	tp.mu.Lock()
	if tp.sdk == nil || tp.stopped {
		tp.mu.Unlock()
		return nil
	}
	tp.stopped = true
	tp.mu.Unlock()

	tp.logger.Info("shutting down tracing provider")
	return tp.sdk.Shutdown(ctx)
}
