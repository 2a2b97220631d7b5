package core

// Handler executes one task type for an agent. Handlers are registered on the
// runtime at construction time, keyed by task type, forming an explicit
// strategy table. Commands with an unregistered type are rejected up front
// instead of falling through.
//
// The invocation contract is a tagged result: a nil error with a result map is
// the success arm; a non-nil error is the failure arm and counts against the
// task's retry budget. Panics are reserved for genuinely unexpected faults;
// the processor recovers them, logs the stack and folds them into the failure
// arm.
//
// Implementations must:
//   - Respect tc.Done() for cooperative cancellation (drain windows are
//     bounded at shutdown)
//   - Avoid blocking the processor loop with CPU-bound work only when they
//     spawn their own helpers; the processor already runs handlers off the
//     loop goroutine
//   - Be safe for reuse across tasks; any per-task state belongs on the
//     TaskContext
type Handler interface {
	// Execute runs the task and returns a result map for the validation
	// hook, or an error describing the failure.
	Execute(tc *TaskContext, params map[string]any) (map[string]any, error)
}

// HandlerFunc adapts a plain function to the Handler interface, mirroring
// http.HandlerFunc.
type HandlerFunc func(tc *TaskContext, params map[string]any) (map[string]any, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(tc *TaskContext, params map[string]any) (map[string]any, error) {
	return f(tc, params)
}
