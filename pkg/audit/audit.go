package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Direction is the flow of an audited event between client and tool host.
type Direction string

const (
	ClientToServer Direction = "client_to_server"
	ServerToClient Direction = "server_to_client"
)

// Kind is the type of an audited event.
type Kind string

const (
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
)

// ErrClosed is returned when recording to a closed log.
var ErrClosed = errors.New("audit log closed")

// Record is a single audit line. Arguments is written for tool calls and
// Result for tool results.
type Record struct {
	Direction Direction
	Type      Kind
	ToolName  string
	Arguments map[string]any
	Result    string
}

// Log is an append-only audit sink. It is safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	logger zerolog.Logger
	out    *errWriter
	closer io.Closer
	closed bool
}

// Open opens (creating if needed) the audit file at path in append mode.
func Open(path string) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return newLog(file, file), nil
}

// New creates a log writing to w. Closing the log does not close w.
func New(w io.Writer) *Log {
	return newLog(w, nil)
}

func newLog(w io.Writer, closer io.Closer) *Log {
	out := &errWriter{w: w}
	return &Log{
		// No timestamp or level: each line carries exactly the record fields.
		logger: zerolog.New(out),
		out:    out,
		closer: closer,
	}
}

// Record appends one record and reports any write failure.
func (l *Log) Record(ctx context.Context, rec Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		span.AddEvent("audit."+string(rec.Type), trace.WithAttributes(
			attribute.String("audit.direction", string(rec.Direction)),
			attribute.String("audit.tool_name", rec.ToolName),
		))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	entry := l.logger.Log().
		Str("direction", string(rec.Direction)).
		Str("type", string(rec.Type)).
		Str("tool_name", rec.ToolName)

	switch rec.Type {
	case KindToolCall:
		args := rec.Arguments
		if args == nil {
			args = map[string]any{}
		}
		entry = entry.Interface("arguments", args)
	default:
		entry = entry.Str("result", rec.Result)
	}

	l.out.err = nil
	entry.Send()

	if l.out.err != nil {
		return fmt.Errorf("failed to write audit record: %w", l.out.err)
	}
	return nil
}

// ToolCall records an outgoing tool invocation.
func (l *Log) ToolCall(ctx context.Context, toolName string, args map[string]any) error {
	return l.Record(ctx, Record{
		Direction: ClientToServer,
		Type:      KindToolCall,
		ToolName:  toolName,
		Arguments: args,
	})
}

// ToolResult records the result returned by the tool host.
func (l *Log) ToolResult(ctx context.Context, toolName, result string) error {
	return l.Record(ctx, Record{
		Direction: ServerToClient,
		Type:      KindToolResult,
		ToolName:  toolName,
		Result:    result,
	})
}

// Close releases the underlying file. It is safe to call more than once.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// errWriter remembers the last write error, which zerolog would otherwise
// swallow.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}
