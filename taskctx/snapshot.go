package taskctx

import (
	"context"
	"log/slog"
)

// Snapshot is an immutable capture of the ambient values of a context at
// fork time. Values are copied once at Capture and never mutated, so a
// parent and its children cannot race on them.
type Snapshot struct {
	scopeID   string
	spanID    string
	principal string
	logger    *slog.Logger
}

// Capture copies the ambient values out of ctx.
func Capture(ctx context.Context) Snapshot {
	var logger *slog.Logger
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		logger = l
	}
	return Snapshot{
		scopeID:   ScopeID(ctx),
		spanID:    SpanID(ctx),
		principal: Principal(ctx),
		logger:    logger,
	}
}

// Bind installs the snapshot onto base and returns the derived context for
// a child's execution frame. The parent context is never touched: contexts
// are immutable, so the prior frame is intact on every exit path.
func (s Snapshot) Bind(base context.Context) context.Context {
	ctx := base
	if s.logger != nil {
		ctx = WithLogger(ctx, s.logger)
	}
	if s.scopeID != "" {
		ctx = WithScopeID(ctx, s.scopeID)
	}
	if s.spanID != "" {
		ctx = WithSpanID(ctx, s.spanID)
	}
	if s.principal != "" {
		ctx = WithPrincipal(ctx, s.principal)
	}
	return ctx
}

// ScopeID returns the captured scope id.
func (s Snapshot) ScopeID() string { return s.scopeID }

// SpanID returns the captured span id.
func (s Snapshot) SpanID() string { return s.spanID }

// Principal returns the captured principal.
func (s Snapshot) Principal() string { return s.principal }
