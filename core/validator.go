package core

// Verdict is the outcome of the validation hook for one handler result.
type Verdict struct {
	Passed  bool
	Details string
}

// Validator gates task completion. The processor calls it with the executed
// task and the handler's result map; a failing verdict moves the task to
// VALIDATION_FAILED (terminal, surfaced for operator or higher-level review,
// never auto-retried). Implementations must be safe for concurrent use across
// agents sharing one hook instance.
type Validator interface {
	Validate(task TaskMessage, result map[string]any) Verdict
}

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc func(task TaskMessage, result map[string]any) Verdict

// Validate implements Validator.
func (f ValidatorFunc) Validate(task TaskMessage, result map[string]any) Verdict {
	return f(task, result)
}
