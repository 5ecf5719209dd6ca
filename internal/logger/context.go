package logger

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey int

const (
	requestIDKey contextKey = iota
	applicationIDKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithApplicationID returns a new context carrying the application being processed.
func WithApplicationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, applicationIDKey, id)
}

// ApplicationID extracts the application ID from the context.
func ApplicationID(ctx context.Context) string {
	id, _ := ctx.Value(applicationIDKey).(string)
	return id
}
