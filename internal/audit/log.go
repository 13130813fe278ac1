package audit

import (
	"context"
	"errors"
	"strings"

	"disbursa.org/internal/auth"
	"disbursa.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes a security event that is not part of the persisted audit
// trail (token issuance, denied requests), enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if fields == nil {
		fields = map[string]any{}
	}
	ev := obs.Logger().Info().Str("type", "audit").Str("event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if handle, ok := auth.HandleFromContext(ctx); ok {
		ev = ev.Str("handle", handle)
	}
	ev.Interface("fields", fields).Send()
	return nil
}
