package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns logger enriched with the trace, query and server
// identity carried by ctx.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	lc := logger.With()
	if id := GetTraceID(ctx); id != "" {
		lc = lc.Str("trace_id", id)
	}
	if id := GetQueryID(ctx); id != "" {
		lc = lc.Str("query_id", id)
	}
	if server := GetServer(ctx); server != "" {
		lc = lc.Str("server", server)
	}
	return lc.Logger()
}
