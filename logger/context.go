package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ToContext stores l in ctx. Middleware uses it to hand request-scoped
// loggers to handlers.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger stored in ctx, or the process-wide logger when
// there is none.
func From(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return L()
	}

	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}

	return L()
}
