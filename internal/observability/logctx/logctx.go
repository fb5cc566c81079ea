// Package logctx carries a request-scoped logger on the context so handlers
// deep in a use case pick up the caller's fields without threading a logger
// through every signature.
package logctx

import (
	"context"

	"github.com/vendkit/vendcore/internal/observability"
)

type ctxKey struct{}

// With attaches the logger to the context. Nil inputs leave the context as is.
func With(ctx context.Context, logger observability.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromOr returns the logger carried on the context, or the fallback when the
// context has none. Call sites always pass their component logger as the
// fallback, so the result is never nil.
func FromOr(ctx context.Context, fallback observability.Logger) observability.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(ctxKey{}).(observability.Logger); ok && logger != nil {
			return logger
		}
	}
	return fallback
}
