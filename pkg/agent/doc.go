// Package agent runs the per-query conversation between a language model
// and the tools exposed by a tool host session.
//
// Invariants:
// - Each ProcessQuery call starts from a fresh history holding only the query.
// - Tool calls in one assistant turn are dispatched sequentially, in order.
// - Every dispatched call gets exactly one tool message before the next model call.
// - Tools are offered only while dispatch rounds remain (one by default).
// - Any error aborts the query without output; the session stays open.
//
// Usage:
//
//	engine, _ := agent.NewEngine(agent.EngineConfig{
//		Session:  session,
//		Provider: provider,
//		Audit:    auditLog,
//	})
//	answer, err := engine.ProcessQuery(ctx, "what is 2+2")
//	_ = answer
package agent
