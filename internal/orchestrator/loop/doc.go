// Package loop provides the budget supervisor shared by the orchestration
// variants: an iteration counter, a wall-clock deadline computed once at
// start, and cooperative abort checks against a context.
//
// Nothing here preempts work in flight. Callers ask at their checkpoints
// (loop top, before each model call, before each command) and act on the
// Verdict:
//
//	switch st.Check(ctx) {
//	case loop.Aborted:
//		return loop.Abort(ctx)
//	case loop.DeadlineExceeded, loop.LimitReached:
//		// stop planning, synthesize with what exists
//	}
package loop
