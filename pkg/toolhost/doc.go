// Package toolhost connects to an MCP tool host running as a child process
// and speaks JSON-RPC 2.0 with it over the child's stdin/stdout.
//
// Invariants:
// - The script kind is checked before any process is spawned.
// - A Session owns exactly one child process; Close terminates it exactly once.
// - Requests are correlated to responses by ID; writes to stdin are serialized.
// - A failed tool call leaves the Session usable.
//
// Usage:
//
//	session, err := toolhost.Connect(ctx, "server.py", toolhost.Options{Logger: logger})
//	if err != nil {
//		return err
//	}
//	defer session.Close()
//	tools, _ := session.ListTools(ctx)
//	result, _ := session.CallTool(ctx, "add", map[string]any{"a": 2, "b": 2})
//	_ = result.Text()
package toolhost
