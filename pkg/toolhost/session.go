package toolhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/toolbridge/internal/metrics"
	"github.com/harun/toolbridge/internal/tracing"
)

const (
	tracerName = "toolbridge/toolhost"

	defaultClientName      = "toolbridge"
	defaultClientVersion   = "dev"
	defaultShutdownTimeout = 5 * time.Second
)

// Options configures how a tool host is launched and spoken to.
type Options struct {
	Logger zerolog.Logger

	// Interpreters overrides the command used per script kind.
	Interpreters map[ScriptKind]Interpreter

	// Env is appended to the inherited environment of the child process.
	Env []string

	ClientName    string
	ClientVersion string

	// ShutdownTimeout bounds how long Close waits for the child to exit
	// after its stdin is closed.
	ShutdownTimeout time.Duration

	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.ClientName == "" {
		o.ClientName = defaultClientName
	}
	if o.ClientVersion == "" {
		o.ClientVersion = defaultClientVersion
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaultShutdownTimeout
	}
	return o
}

// Session is an initialized connection to one tool host process.
type Session struct {
	transport *stdioTransport
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration

	server ServerInfo
	tools  []Tool

	closeOnce sync.Once
	closeErr  error
}

// Connect launches the script as a tool host and performs the handshake. The
// script kind is checked before any process is started.
func Connect(ctx context.Context, scriptPath string, opts Options) (*Session, error) {
	if _, err := DetectScriptKind(scriptPath); err != nil {
		return nil, err
	}
	spec, err := ResolveLaunch(scriptPath, opts)
	if err != nil {
		return nil, err
	}
	return Dial(ctx, spec, opts)
}

// Dial starts the given command as a tool host, sends initialize followed by
// notifications/initialized, and lists the available tools. Any failure is
// reported as ErrConnectionFailed and the child process is stopped.
func Dial(ctx context.Context, spec LaunchSpec, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	ctx, span := tracing.StartSpan(ctx, tracerName, "toolhost.connect",
		attribute.String("toolhost.command", spec.Command),
	)
	defer span.End()

	t, err := startTransport(spec, opts.Logger, opts.ShutdownTimeout)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	s := &Session{
		transport: t,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		timeout:   opts.ShutdownTimeout,
	}

	if err := s.initialize(ctx, opts); err != nil {
		_ = t.close(opts.ShutdownTimeout)
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	tools, err := s.ListTools(ctx)
	if err != nil {
		_ = t.close(opts.ShutdownTimeout)
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	s.tools = tools

	span.SetAttributes(
		attribute.String("toolhost.server", s.server.Name),
		attribute.Int("toolhost.tools", len(tools)),
	)
	s.metrics.SessionOpened()

	s.logger.Info().
		Str("server", s.server.Name).
		Str("server_version", s.server.Version).
		Int("tools", len(tools)).
		Msg("connected to tool host")

	return s, nil
}

func (s *Session) initialize(ctx context.Context, opts Options) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    opts.ClientName,
			"version": opts.ClientVersion,
		},
	}

	raw, err := s.transport.call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}
	if result.ProtocolVersion != "" && result.ProtocolVersion != protocolVersion {
		s.logger.Warn().
			Str("requested", protocolVersion).
			Str("negotiated", result.ProtocolVersion).
			Msg("tool host negotiated a different protocol version")
	}
	s.server = result.ServerInfo

	if err := s.transport.notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	return nil
}

// ServerInfo returns the identity reported by the tool host.
func (s *Session) ServerInfo() ServerInfo {
	return s.server
}

// ToolNames returns the names of the tools listed during the handshake, in
// the order the tool host reported them.
func (s *Session) ToolNames() []string {
	names := make([]string, len(s.tools))
	for i, t := range s.tools {
		names[i] = t.Name
	}
	return names
}

// ListTools fetches the full tool list, following pagination cursors.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	var (
		tools  []Tool
		cursor string
		seen   = map[string]bool{}
	)
	for {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		raw, err := s.transport.call(ctx, "tools/list", params)
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}

		var page toolsListResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}
		tools = append(tools, page.Tools...)

		if page.NextCursor == "" || seen[page.NextCursor] {
			break
		}
		seen[page.NextCursor] = true
		cursor = page.NextCursor
	}

	s.metrics.SetToolsAvailable(len(tools))
	return tools, nil
}

// CallTool invokes a tool by name. A JSON-RPC error or a result flagged with
// isError is returned as ErrToolInvocation.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "toolhost.call_tool",
		attribute.String("tool.name", name),
	)
	defer span.End()

	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	raw, err := s.transport.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		s.metrics.RecordToolCall(name, time.Since(start), errorType(err))
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrToolInvocation, name, err)
	}

	var result CallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		s.metrics.RecordToolCall(name, time.Since(start), "decode")
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("%w: %s: decode result: %w", ErrToolInvocation, name, err)
	}
	if result.IsError {
		s.metrics.RecordToolCall(name, time.Since(start), "tool_error")
		err := fmt.Errorf("%w: %s: %s", ErrToolInvocation, name, result.Text())
		tracing.RecordError(span, err)
		return &result, err
	}

	s.metrics.RecordToolCall(name, time.Since(start), "")
	s.logger.Debug().Str("tool", name).Dur("duration", time.Since(start)).Msg("tool call completed")
	return &result, nil
}

// Ping checks that the tool host is responsive.
func (s *Session) Ping(ctx context.Context) error {
	if _, err := s.transport.call(ctx, "ping", nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close stops the tool host process. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.transport.close(s.timeout)
		s.metrics.SessionClosed()
		s.logger.Debug().Str("server", s.server.Name).Msg("tool host session closed")
	})
	return s.closeErr
}

func errorType(err error) string {
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		return "rpc_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	default:
		return "transport"
	}
}
