package tracing

import (
	"context"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// QueryIDKey is the context key for the ID of the query being processed
	QueryIDKey ContextKey = "query_id"
	// ServerKey is the context key for the tool host script path
	ServerKey ContextKey = "server"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewQueryID generates a short ID for a single query.
func NewQueryID() string {
	id, err := gonanoid.New()
	if err != nil {
		return uuid.New().String()
	}
	return id
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithQueryID adds a query ID to the context
func WithQueryID(ctx context.Context, queryID string) context.Context {
	return context.WithValue(ctx, QueryIDKey, queryID)
}

// WithServer adds the tool host identity to the context
func WithServer(ctx context.Context, server string) context.Context {
	return context.WithValue(ctx, ServerKey, server)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetQueryID retrieves the query ID from the context
func GetQueryID(ctx context.Context) string {
	if queryID, ok := ctx.Value(QueryIDKey).(string); ok {
		return queryID
	}
	return ""
}

// GetServer retrieves the tool host identity from the context
func GetServer(ctx context.Context) string {
	if server, ok := ctx.Value(ServerKey).(string); ok {
		return server
	}
	return ""
}

// NewQueryContext creates a context for one query. A trace ID is generated
// only if the parent context does not already carry one.
func NewQueryContext(ctx context.Context) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	return WithQueryID(ctx, NewQueryID())
}
