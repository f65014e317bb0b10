// Package taskctx carries ambient, request-scoped values through a
// context.Context: the logger, the enclosing scope id, the current trace
// span id, and the authenticated principal. It also provides Snapshot, an
// immutable capture of those values that can be re-installed onto the
// execution context of a child task.
package taskctx

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Unexported key types prevent collisions with context keys from other packages.
type loggerKeyType struct{}
type scopeIDKeyType struct{}
type spanIDKeyType struct{}
type principalKeyType struct{}

var (
	loggerKey    = loggerKeyType{}
	scopeIDKey   = scopeIDKeyType{}
	spanIDKey    = spanIDKeyType{}
	principalKey = principalKeyType{}
)

// WithLogger returns a new context with the provided logger embedded.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger extracts the slog.Logger from a context. If no logger is found,
// it returns slog.Default so library call sites always have a usable logger.
func Logger(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithScopeID returns a new context tagged with the given scope id.
func WithScopeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, scopeIDKey, id)
}

// ScopeID returns the ambient scope id, or "" if none is set.
func ScopeID(ctx context.Context) string {
	id, _ := ctx.Value(scopeIDKey).(string)
	return id
}

// WithSpanID returns a new context tagged with the given trace span id.
func WithSpanID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, spanIDKey, id)
}

// SpanID returns the ambient trace span id, or "" if none is set.
func SpanID(ctx context.Context) string {
	id, _ := ctx.Value(spanIDKey).(string)
	return id
}

// WithPrincipal returns a new context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// Principal returns the ambient principal, or "" if none is set.
func Principal(ctx context.Context) string {
	p, _ := ctx.Value(principalKey).(string)
	return p
}

// NewScopeID generates a fresh scope identifier.
func NewScopeID() string {
	return uuid.NewString()
}

// NewSpanID generates a fresh trace span identifier.
func NewSpanID() string {
	return uuid.NewString()
}
