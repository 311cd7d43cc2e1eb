package types

import "context"

// contextKey is a private type to prevent collisions with other packages'
// context values.
type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID returns a context carrying the request correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request correlation ID from the context, or an
// empty string when none is set.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
