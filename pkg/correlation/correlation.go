// Package correlation carries a per-request id from the HTTP edge
// through the context into logs and queued export tasks, so one export
// can be traced across the API and the consumer.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

// HeaderName is the HTTP header the id arrives and leaves on.
const HeaderName = "X-Correlation-ID"

// KafkaHeaderName is the message header the id travels under on the
// export topic.
const KafkaHeaderName = "X-Correlation-ID"

type contextKey struct{}

// FromContext reads the id from the context, empty when absent.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}

// WithID stores the id on the context.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// NewID mints a fresh id for requests that arrive without one.
func NewID() string {
	return uuid.New().String()
}
