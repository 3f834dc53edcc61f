// Package trace carries a per-request trace ID through context so every log
// line of a turn can be correlated.
package trace

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header is the HTTP header used to propagate a caller-supplied trace ID.
const Header = "X-Trace-Id"

type traceKey struct{}

// GenerateID returns a new random trace ID of the form "t_<32 hex>".
func GenerateID() string {
	return "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithTraceID returns a child context carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext returns the trace ID in ctx, or "".
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Ensure returns ctx unchanged when it already carries a trace ID, and
// otherwise attaches a fresh one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := GenerateID()
	return WithTraceID(ctx, id), id
}
