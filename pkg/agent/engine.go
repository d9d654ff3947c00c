package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/toolbridge/internal/metrics"
	"github.com/harun/toolbridge/internal/tracing"
	"github.com/harun/toolbridge/pkg/audit"
	"github.com/harun/toolbridge/pkg/catalog"
	"github.com/harun/toolbridge/pkg/toolhost"
)

const tracerName = "toolbridge/agent"

// Session is the tool host surface used by the engine.
type Session interface {
	ListTools(ctx context.Context) ([]toolhost.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*toolhost.CallResult, error)
}

// EngineConfig holds engine dependencies and model settings.
type EngineConfig struct {
	Session  Session
	Provider LLMProvider
	Audit    *audit.Log
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics

	Model        string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string

	// MaxToolRounds bounds tool dispatch rounds per query. Zero means one.
	MaxToolRounds int

	// RequestTimeout bounds a whole query. Zero means no deadline.
	RequestTimeout time.Duration
}

// Engine runs queries against one tool host session. Queries are serialized.
type Engine struct {
	session  Session
	provider LLMProvider
	audit    *audit.Log
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	model          string
	maxTokens      int
	temperature    float64
	systemPrompt   string
	maxToolRounds  int
	requestTimeout time.Duration

	mu sync.Mutex
}

// NewEngine validates cfg and creates an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("audit log is required")
	}
	if cfg.MaxToolRounds < 0 {
		return nil, fmt.Errorf("max tool rounds cannot be negative")
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	}
	if cfg.RequestTimeout < 0 {
		return nil, fmt.Errorf("request timeout cannot be negative")
	}

	rounds := cfg.MaxToolRounds
	if rounds == 0 {
		rounds = 1
	}

	return &Engine{
		session:        cfg.Session,
		provider:       cfg.Provider,
		audit:          cfg.Audit,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		model:          cfg.Model,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
		systemPrompt:   cfg.SystemPrompt,
		maxToolRounds:  rounds,
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

// ProcessQuery answers one query. The model is first offered the tool
// host's current tools; requested calls are dispatched in order and the
// model is called again with the results. Output lines from each model
// response are joined with newlines.
func (e *Engine) ProcessQuery(ctx context.Context, query string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx = tracing.NewQueryContext(ctx)
	if e.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.requestTimeout)
		defer cancel()
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.process_query",
		attribute.String("query.id", tracing.GetQueryID(ctx)),
		attribute.String("llm.provider", e.provider.Provider()),
	)
	defer span.End()
	if server := tracing.GetServer(ctx); server != "" {
		span.SetAttributes(attribute.String("toolhost.server", server))
	}

	logger := tracing.LoggerFromContext(ctx, e.logger)
	logger.Debug().Int("query_length", len(query)).Msg("processing query")

	start := time.Now()
	answer, err := e.run(ctx, logger, query)
	e.metrics.RecordQuery(time.Since(start), err == nil)
	if err != nil {
		tracing.RecordError(span, err)
		logger.Debug().Err(err).Msg("query failed")
		return "", err
	}

	logger.Debug().Dur("duration", time.Since(start)).Msg("query completed")
	return answer, nil
}

func (e *Engine) run(ctx context.Context, logger zerolog.Logger, query string) (string, error) {
	cat, err := catalog.Fetch(ctx, e.session, logger)
	if err != nil {
		return "", fmt.Errorf("fetch tool catalog: %w", err)
	}
	schemas := cat.Schemas()

	history := []Message{UserMessage(query)}
	var lines []string

	for round := 0; ; round++ {
		var tools []catalog.FunctionSchema
		if round < e.maxToolRounds {
			tools = schemas
		}

		resp, err := e.callModel(ctx, logger, history, tools)
		if err != nil {
			return "", err
		}

		// Only the opening response may be dropped when empty.
		if round > 0 || resp.Content != "" {
			lines = append(lines, resp.Content)
		}

		if len(resp.ToolCalls) == 0 {
			break
		}
		if round >= e.maxToolRounds {
			logger.Warn().Int("tool_calls", len(resp.ToolCalls)).Msg("ignoring tool calls after final round")
			break
		}

		history = append(history, Message{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results, err := e.dispatch(ctx, logger, cat, resp.ToolCalls)
		if err != nil {
			return "", err
		}
		for _, r := range results {
			history = append(history, ToolMessage(r))
		}
	}

	return strings.Join(lines, "\n"), nil
}

func (e *Engine) callModel(ctx context.Context, logger zerolog.Logger, history []Message, tools []catalog.FunctionSchema) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.model_call",
		attribute.Int("llm.messages", len(history)),
		attribute.Int("llm.tools", len(tools)),
	)
	defer span.End()

	request := LLMRequest{
		Model:        e.model,
		Messages:     append([]Message(nil), history...),
		Tools:        tools,
		Temperature:  e.temperature,
		MaxTokens:    e.maxTokens,
		SystemPrompt: e.systemPrompt,
	}

	start := time.Now()
	resp, err := e.provider.Call(ctx, request)
	e.metrics.RecordModelCall(e.provider.Provider(), time.Since(start), err == nil && resp != nil)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrModelCall, err)
	}
	if resp == nil {
		err := fmt.Errorf("%w: empty response from %s", ErrModelCall, e.provider.Provider())
		tracing.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("llm.tool_calls", len(resp.ToolCalls)))
	logEvent := logger.Debug().
		Str("provider", e.provider.Provider()).
		Int("tool_calls", len(resp.ToolCalls)).
		Dur("duration", time.Since(start))
	if resp.Usage != nil {
		logEvent = logEvent.Int("input_tokens", resp.Usage.InputTokens).Int("output_tokens", resp.Usage.OutputTokens)
	}
	logEvent.Msg("model call completed")

	return resp, nil
}

// dispatch runs the tool calls of one assistant turn sequentially. All
// arguments are parsed before the first call so a malformed call leaves no
// audit records behind.
func (e *Engine) dispatch(ctx context.Context, logger zerolog.Logger, cat *catalog.Catalog, calls []ToolCall) ([]ToolCallResult, error) {
	args := make([]map[string]any, len(calls))
	for i, call := range calls {
		parsed, err := ParseArguments(call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrToolArgumentParse, call.Name, err)
		}
		if err := cat.Validate(call.Name, parsed); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrToolArgumentParse, err)
		}
		args[i] = parsed
	}

	results := make([]ToolCallResult, 0, len(calls))
	for i, call := range calls {
		result, err := e.invoke(ctx, logger, call, args[i])
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (e *Engine) invoke(ctx context.Context, logger zerolog.Logger, call ToolCall, args map[string]any) (ToolCallResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.tool_call",
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	)
	defer span.End()

	if err := e.audit.ToolCall(ctx, call.Name, args); err != nil {
		tracing.RecordError(span, err)
		return ToolCallResult{}, err
	}

	logger.Debug().Str("tool", call.Name).Str("call_id", call.ID).Msg("calling tool")

	res, err := e.session.CallTool(ctx, call.Name, args)
	if err != nil {
		tracing.RecordError(span, err)
		// A result flagged isError still came back from the tool host.
		if res != nil {
			if auditErr := e.audit.ToolResult(ctx, call.Name, res.Text()); auditErr != nil {
				err = errors.Join(err, auditErr)
			}
		}
		if !errors.Is(err, toolhost.ErrToolInvocation) {
			err = fmt.Errorf("%w: %s: %w", toolhost.ErrToolInvocation, call.Name, err)
		}
		return ToolCallResult{}, err
	}

	text := res.Text()
	if err := e.audit.ToolResult(ctx, call.Name, text); err != nil {
		tracing.RecordError(span, err)
		return ToolCallResult{}, err
	}

	return ToolCallResult{CallID: call.ID, ToolName: call.Name, Content: text}, nil
}

// ParseArguments decodes model-supplied tool arguments. They must form a
// JSON object; an empty string is rejected.
func ParseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("arguments are empty")
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if args == nil {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}
	return args, nil
}
