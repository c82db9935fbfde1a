package timing

import (
	"context"

	"github.com/google/uuid"
)

type correlationKey struct{}

// NewCorrelationID generates a fresh correlation ID for an externally
// originated operation (MQTT command, discovery publish, export run).
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a context carrying id, propagated to every log
// and metric emitted during the operation.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation ID carried by ctx, or "" if none is set.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// EnsureCorrelationID returns ctx unchanged if it already carries a
// correlation ID, otherwise returns a new context with a freshly generated one.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := NewCorrelationID()
	return WithCorrelationID(ctx, id), id
}
