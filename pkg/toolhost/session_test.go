package toolhost_test

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolbridge/internal/metrics"
	"github.com/harun/toolbridge/pkg/toolhost"
	"github.com/harun/toolbridge/pkg/toolhost/toolhosttest"
)

func TestMain(m *testing.M) {
	toolhosttest.Main()
	os.Exit(m.Run())
}

func fakeSpec(scenario string) toolhost.LaunchSpec {
	cmd, args, env := toolhosttest.Command(scenario)
	return toolhost.LaunchSpec{Command: cmd, Args: args, Env: env}
}

func dial(t *testing.T, scenario string) *toolhost.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := toolhost.Dial(ctx, fakeSpec(scenario), toolhost.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDial_Handshake(t *testing.T) {
	s := dial(t, toolhosttest.ScenarioDefault)

	assert.Equal(t, toolhosttest.ServerName, s.ServerInfo().Name)
	assert.Equal(t, []string{"add", "echo", "fail", "pinged"}, s.ToolNames())
}

func TestDial_Pagination(t *testing.T) {
	s := dial(t, toolhosttest.ScenarioPaged)

	assert.Equal(t, []string{"add", "echo", "fail", "pinged"}, s.ToolNames())
}

func TestDial_NoTools(t *testing.T) {
	s := dial(t, toolhosttest.ScenarioNoTools)

	assert.Empty(t, s.ToolNames())
}

func TestDial_Failures(t *testing.T) {
	tests := []struct {
		name string
		spec toolhost.LaunchSpec
	}{
		{name: "initialize rejected", spec: fakeSpec(toolhosttest.ScenarioRejectInit)},
		{name: "process exits", spec: fakeSpec(toolhosttest.ScenarioExit)},
		{name: "missing executable", spec: toolhost.LaunchSpec{Command: "/nonexistent/toolbridge-interpreter"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			s, err := toolhost.Dial(ctx, tt.spec, toolhost.Options{Logger: zerolog.Nop()})
			require.Error(t, err)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, toolhost.ErrConnectionFailed)
		})
	}
}

func TestConnect_UnsupportedKindSpawnsNothing(t *testing.T) {
	_, err := toolhost.Connect(context.Background(), "server.rb", toolhost.Options{
		Interpreters: map[toolhost.ScriptKind]toolhost.Interpreter{
			toolhost.KindPython: {Command: "/nonexistent"},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, toolhost.ErrUnsupportedScriptKind)
	assert.NotErrorIs(t, err, toolhost.ErrConnectionFailed)
}

func TestConnect_InterpreterOverride(t *testing.T) {
	cmd, args, env := toolhosttest.Command(toolhosttest.ScenarioDefault)

	s, err := toolhost.Connect(context.Background(), "weather/server.py", toolhost.Options{
		Logger: zerolog.Nop(),
		Interpreters: map[toolhost.ScriptKind]toolhost.Interpreter{
			toolhost.KindPython: {Command: cmd, Args: args},
		},
		Env: env,
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Contains(t, s.ToolNames(), "add")
}

func TestSession_CallTool(t *testing.T) {
	s := dial(t, toolhosttest.ScenarioDefault)
	ctx := context.Background()

	res, err := s.CallTool(ctx, "add", map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, "5", res.Text())
	assert.False(t, res.IsError)

	res, err = s.CallTool(ctx, "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "", res.Text())
}

func TestSession_CallToolErrors(t *testing.T) {
	s := dial(t, toolhosttest.ScenarioDefault)
	ctx := context.Background()

	res, err := s.CallTool(ctx, "fail", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, toolhost.ErrToolInvocation)
	require.NotNil(t, res)
	assert.True(t, res.IsError)
	assert.Contains(t, err.Error(), "tool exploded")

	_, err = s.CallTool(ctx, "missing", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, toolhost.ErrToolInvocation)
	var rpcErr *toolhost.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
}

func TestSession_AnswersServerPing(t *testing.T) {
	s := dial(t, toolhosttest.ScenarioDefault)

	assert.Eventually(t, func() bool {
		res, err := s.CallTool(context.Background(), "pinged", nil)
		return err == nil && res.Text() == "true"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSession_Ping(t *testing.T) {
	s := dial(t, toolhosttest.ScenarioDefault)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s := dial(t, toolhosttest.ScenarioDefault)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.CallTool(context.Background(), "add", map[string]any{"a": 1, "b": 1})
	assert.ErrorIs(t, err, toolhost.ErrSessionClosed)
	assert.ErrorIs(t, err, toolhost.ErrToolInvocation)
}

func TestSession_ContextCancel(t *testing.T) {
	s := dial(t, toolhosttest.ScenarioDefault)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CallTool(ctx, "add", map[string]any{"a": 1, "b": 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_Metrics(t *testing.T) {
	m := metrics.NewMetrics()
	ctx := context.Background()

	s, err := toolhost.Dial(ctx, fakeSpec(toolhosttest.ScenarioDefault), toolhost.Options{
		Logger:  zerolog.Nop(),
		Metrics: m,
	})
	require.NoError(t, err)

	_, err = s.CallTool(ctx, "add", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	_, _ = s.CallTool(ctx, "fail", nil)

	require.NoError(t, s.Close())

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["toolbridge_tool_calls_total"])
	assert.True(t, names["toolbridge_tool_call_errors_total"])
	assert.True(t, names["toolbridge_tools_available"])
}

func TestSession_CloseStopsLeftoverHelpers(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	// The launcher leaves a helper holding the tool host's stdout and stderr.
	cmd, args, env := toolhosttest.Command(toolhosttest.ScenarioDefault)
	spec := toolhost.LaunchSpec{
		Command: sh,
		Args:    append([]string{"-c", `sleep 30 & exec "$0" "$@"`, cmd}, args...),
		Env:     env,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := toolhost.Dial(ctx, spec, toolhost.Options{
		Logger:          zerolog.Nop(),
		ShutdownTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	res, err := s.CallTool(ctx, "add", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, "3", res.Text())

	start := time.Now()
	assert.NoError(t, s.Close())
	assert.Less(t, time.Since(start), 3*time.Second)
}
