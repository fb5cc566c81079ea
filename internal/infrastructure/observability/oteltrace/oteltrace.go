package oteltrace

import (
	"context"

	"github.com/vendkit/vendcore/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type tracer struct{ t trace.Tracer }

// New wraps the globally-registered otel tracer. The host process is
// responsible for installing a TracerProvider and exporter.
func New(name string) observability.Tracer {
	if name == "" {
		name = "vendcore"
	}
	return &tracer{t: otel.Tracer(name)}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, name, trace.WithAttributes(attrs...))
}
