// Package toolhosttest provides an in-process fake tool host for tests.
//
// The fake runs as a re-executed test binary. A test package opts in by
// calling Main from TestMain:
//
//	func TestMain(m *testing.M) {
//		toolhosttest.Main()
//		os.Exit(m.Run())
//	}
//
// and launches it with the command returned by Command.
package toolhosttest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// EnvVar selects the scenario served by the re-executed test binary.
const EnvVar = "TOOLBRIDGE_FAKE_TOOLHOST"

// Scenarios understood by Serve.
const (
	// ScenarioDefault serves the add, echo, fail and pinged tools.
	ScenarioDefault = "default"
	// ScenarioPaged serves the default tools across two tools/list pages.
	ScenarioPaged = "paged"
	// ScenarioRejectInit answers initialize with a JSON-RPC error.
	ScenarioRejectInit = "reject-init"
	// ScenarioExit exits before reading any request.
	ScenarioExit = "exit"
	// ScenarioNoTools serves an empty tool list.
	ScenarioNoTools = "no-tools"
)

// ServerName is the serverInfo name reported by the fake.
const ServerName = "fake-toolhost"

// Main serves the selected scenario and exits when EnvVar is set. It returns
// immediately otherwise.
func Main() {
	scenario := os.Getenv(EnvVar)
	if scenario == "" {
		return
	}
	if scenario == ScenarioExit {
		os.Exit(3)
	}
	fmt.Fprintln(os.Stderr, "fake tool host ready")
	Serve(os.Stdin, os.Stdout, scenario)
	os.Exit(0)
}

// Command returns the command line and environment that re-execute the
// current test binary as a fake tool host for scenario.
func Command(scenario string) (string, []string, []string) {
	env := append(os.Environ(), EnvVar+"="+scenario)
	return os.Args[0], []string{"-test.run=^$"}, env
}

type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type server struct {
	scenario string
	out      *json.Encoder
	mu       sync.Mutex

	pingAnswered bool
}

// Serve runs the fake tool host protocol loop until r is exhausted.
func Serve(r io.Reader, w io.Writer, scenario string) {
	s := &server{scenario: scenario, out: json.NewEncoder(w)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		s.handle(&msg)
	}
}

func (s *server) send(msg message) {
	msg.JSONRPC = "2.0"
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.out.Encode(msg)
}

func (s *server) reply(id json.RawMessage, result any) {
	payload, _ := json.Marshal(result)
	s.send(message{ID: id, Result: payload})
}

func (s *server) fail(id json.RawMessage, code int, text string) {
	s.send(message{ID: id, Error: &rpcError{Code: code, Message: text}})
}

func (s *server) handle(msg *message) {
	// Response to our own ping.
	if msg.Method == "" {
		if string(msg.ID) == `"srv-ping"` && msg.Error == nil {
			s.pingAnswered = true
		}
		return
	}

	switch msg.Method {
	case "initialize":
		if s.scenario == ScenarioRejectInit {
			s.fail(msg.ID, -32603, "initialize rejected")
			return
		}
		s.reply(msg.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": ServerName, "version": "0.1.0"},
		})
	case "notifications/initialized":
		// Exercise server-to-client requests before any tool traffic.
		s.send(message{ID: json.RawMessage(`"srv-ping"`), Method: "ping"})
		s.send(message{Method: "notifications/message", Params: json.RawMessage(`{"level":"info","data":"hello"}`)})
	case "ping":
		s.reply(msg.ID, map[string]any{})
	case "tools/list":
		s.listTools(msg)
	case "tools/call":
		s.callTool(msg)
	default:
		if len(msg.ID) > 0 {
			s.fail(msg.ID, -32601, "method not found")
		}
	}
}

// Tools returns the tool descriptors served by the default scenario.
func Tools() []map[string]any {
	return []map[string]any{
		{
			"name":        "add",
			"description": "Add two numbers",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"a": map[string]any{"type": "number"},
					"b": map[string]any{"type": "number"},
				},
				"required": []string{"a", "b"},
			},
		},
		{
			"name":        "echo",
			"description": "Echo the text argument",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
			},
		},
		{
			"name":        "fail",
			"description": "Always reports a tool error",
			"inputSchema": map[string]any{"type": "object"},
		},
		{
			"name":        "pinged",
			"description": "Reports whether the client answered the server ping",
		},
	}
}

func (s *server) listTools(msg *message) {
	tools := Tools()
	switch s.scenario {
	case ScenarioNoTools:
		s.reply(msg.ID, map[string]any{"tools": []any{}})
	case ScenarioPaged:
		var params struct {
			Cursor string `json:"cursor"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		if params.Cursor == "" {
			s.reply(msg.ID, map[string]any{"tools": tools[:2], "nextCursor": "page-2"})
			return
		}
		s.reply(msg.ID, map[string]any{"tools": tools[2:]})
	default:
		s.reply(msg.ID, map[string]any{"tools": tools})
	}
}

func (s *server) callTool(msg *message) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.fail(msg.ID, -32602, "invalid params")
		return
	}

	text := func(t string) map[string]any {
		return map[string]any{"content": []map[string]any{{"type": "text", "text": t}}}
	}

	switch params.Name {
	case "add":
		a, _ := params.Arguments["a"].(float64)
		b, _ := params.Arguments["b"].(float64)
		s.reply(msg.ID, text(fmt.Sprintf("%g", a+b)))
	case "echo":
		t, _ := params.Arguments["text"].(string)
		s.reply(msg.ID, text(strings.TrimSpace(t)))
	case "fail":
		res := text("tool exploded")
		res["isError"] = true
		s.reply(msg.ID, res)
	case "pinged":
		s.reply(msg.ID, text(fmt.Sprintf("%t", s.pingAnswered)))
	default:
		s.fail(msg.ID, -32602, "unknown tool: "+params.Name)
	}
}
