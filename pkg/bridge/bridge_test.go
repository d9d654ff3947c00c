package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolbridge/pkg/agent"
	"github.com/harun/toolbridge/pkg/toolhost"
	"github.com/harun/toolbridge/pkg/toolhost/toolhosttest"
)

func TestMain(m *testing.M) {
	toolhosttest.Main()
	os.Exit(m.Run())
}

// scriptedProvider answers with canned responses in order.
type scriptedProvider struct {
	responses []*agent.LLMResponse
	requests  []agent.LLMRequest
}

func (p *scriptedProvider) Call(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) Provider() string { return "scripted" }

func testOptions(t *testing.T, scenario string, llm agent.LLMProvider) Options {
	t.Helper()
	cmd, args, env := toolhosttest.Command(scenario)
	return Options{
		ScriptPath: filepath.Join(t.TempDir(), "server.py"),
		AuditPath:  filepath.Join(t.TempDir(), "audit", "blackboard_log.txt"),
		ToolHost: toolhost.Options{
			Interpreters: map[toolhost.ScriptKind]toolhost.Interpreter{
				toolhost.KindPython: {Command: cmd, Args: args},
			},
			Env: env,
		},
		LLM:    llm,
		Logger: zerolog.Nop(),
	}
}

func TestOpen_EndToEnd(t *testing.T) {
	llm := &scriptedProvider{responses: []*agent.LLMResponse{
		{Content: "Adding.", ToolCalls: []agent.ToolCall{{ID: "c1", Name: "add", Arguments: `{"a":2,"b":2}`}}},
		{Content: "The answer is 4."},
	}}
	opts := testOptions(t, toolhosttest.ScenarioDefault, llm)

	b, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, []string{"add", "echo", "fail", "pinged"}, b.ToolNames())

	out, err := b.ProcessQuery(context.Background(), "what is 2+2")
	require.NoError(t, err)
	assert.Equal(t, "Adding.\nThe answer is 4.", out)

	require.Len(t, llm.requests, 2)
	assert.Len(t, llm.requests[0].Tools, 4)
	assert.Empty(t, llm.requests[1].Tools)
	assert.Equal(t, "4", llm.requests[1].Messages[2].Content)

	require.NoError(t, b.Close())
	data, err := os.ReadFile(opts.AuditPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"direction":"client_to_server","type":"tool_call","tool_name":"add","arguments":{"a":2,"b":2}}`, lines[0])
	assert.JSONEq(t, `{"direction":"server_to_client","type":"tool_result","tool_name":"add","result":"4"}`, lines[1])
}

func TestOpen_ToolFailureKeepsSessionUsable(t *testing.T) {
	llm := &scriptedProvider{responses: []*agent.LLMResponse{
		{ToolCalls: []agent.ToolCall{{ID: "c1", Name: "fail", Arguments: `{}`}}},
		{Content: "plain answer"},
	}}
	opts := testOptions(t, toolhosttest.ScenarioDefault, llm)
	b, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.ProcessQuery(context.Background(), "break it")
	assert.ErrorIs(t, err, toolhost.ErrToolInvocation)

	out, err := b.ProcessQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "plain answer", out)

	require.NoError(t, b.Close())
	data, err := os.ReadFile(opts.AuditPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"direction":"client_to_server","type":"tool_call","tool_name":"fail","arguments":{}}`, lines[0])
	assert.JSONEq(t, `{"direction":"server_to_client","type":"tool_result","tool_name":"fail","result":"tool exploded"}`, lines[1])
}

func TestOpen_UnsupportedScriptCreatesNothing(t *testing.T) {
	opts := testOptions(t, toolhosttest.ScenarioDefault, &scriptedProvider{})
	opts.ScriptPath = "server.rb"

	_, err := Open(context.Background(), opts)
	assert.ErrorIs(t, err, toolhost.ErrUnsupportedScriptKind)

	_, statErr := os.Stat(opts.AuditPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestOpen_ConnectionFailure(t *testing.T) {
	opts := testOptions(t, toolhosttest.ScenarioRejectInit, &scriptedProvider{})

	_, err := Open(context.Background(), opts)
	assert.ErrorIs(t, err, toolhost.ErrConnectionFailed)
}

func TestOpen_UnknownProviderReleasesSession(t *testing.T) {
	opts := testOptions(t, toolhosttest.ScenarioDefault, nil)
	opts.Provider = agent.ProviderConfig{Name: "gemini"}

	_, err := Open(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestClose_Idempotent(t *testing.T) {
	b, err := Open(context.Background(), testOptions(t, toolhosttest.ScenarioDefault, &scriptedProvider{}))
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err = b.Session().CallTool(context.Background(), "add", map[string]any{"a": 1, "b": 1})
	assert.ErrorIs(t, err, toolhost.ErrSessionClosed)
}

func TestRun_ClosesOnEveryExitPath(t *testing.T) {
	t.Run("return", func(t *testing.T) {
		var captured *Bridge
		err := Run(context.Background(), testOptions(t, toolhosttest.ScenarioDefault, &scriptedProvider{}), func(ctx context.Context, b *Bridge) error {
			captured = b
			return nil
		})
		require.NoError(t, err)
		_, err = captured.Session().CallTool(context.Background(), "add", nil)
		assert.ErrorIs(t, err, toolhost.ErrSessionClosed)
	})

	t.Run("error", func(t *testing.T) {
		boom := errors.New("boom")
		var captured *Bridge
		err := Run(context.Background(), testOptions(t, toolhosttest.ScenarioDefault, &scriptedProvider{}), func(ctx context.Context, b *Bridge) error {
			captured = b
			return boom
		})
		assert.ErrorIs(t, err, boom)
		_, err = captured.Session().CallTool(context.Background(), "add", nil)
		assert.ErrorIs(t, err, toolhost.ErrSessionClosed)
	})

	t.Run("panic", func(t *testing.T) {
		var captured *Bridge
		assert.Panics(t, func() {
			_ = Run(context.Background(), testOptions(t, toolhosttest.ScenarioDefault, &scriptedProvider{}), func(ctx context.Context, b *Bridge) error {
				captured = b
				panic("fn exploded")
			})
		})
		require.NotNil(t, captured)
		_, err := captured.Session().CallTool(context.Background(), "add", nil)
		assert.ErrorIs(t, err, toolhost.ErrSessionClosed)
	})
}
