// Package audit records every tool call and tool result as an append-only
// JSON-lines event stream.
//
// Invariants:
// - Records are only ever appended; the file is opened with O_APPEND and never truncated or rotated.
// - One record per directional event: a tool_call before invocation and a tool_result after it.
// - Line order equals call order, so replaying the file reconstructs the client/server exchange.
//
// Usage:
//
//	log, _ := audit.Open("blackboard_log.txt")
//	defer log.Close()
//	_ = log.ToolCall(ctx, "add", map[string]any{"a": 2, "b": 2})
//	_ = log.ToolResult(ctx, "add", "4")
package audit
