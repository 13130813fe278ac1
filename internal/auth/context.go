package auth

import (
	"context"
	"strings"
)

type handleContextKey struct{}
type tokenContextKey struct{}

// ContextWithHandle stores the authenticated wallet handle in the context.
func ContextWithHandle(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, handleContextKey{}, strings.TrimSpace(handle))
}

// HandleFromContext extracts the authenticated handle from context.
func HandleFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(handleContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
