package ports

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type TracingProvider interface {
	Tracer(name string) trace.Tracer
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
