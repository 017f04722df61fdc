package middleware

import (
	"context"

	"github.com/angelmondragon/storefront/internal/registry"
)

type contextKey string

const ctxSession contextKey = "session"

// SessionFromContext returns the browser session loaded by the Sessions middleware.
func SessionFromContext(ctx context.Context) *registry.Session {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxSession).(*registry.Session); ok {
		return v
	}
	return nil
}

// WithSession injects the browser session into the context.
func WithSession(ctx context.Context, s *registry.Session) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxSession, s)
}

func sessionIDFromContext(ctx context.Context) string {
	if s := SessionFromContext(ctx); s != nil {
		return s.ID
	}
	return ""
}
