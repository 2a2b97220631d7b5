package core

import "fmt"

// Error codes used in ErrorInfo payloads. They mirror the error taxonomy:
// local recoverable conditions never touch agent state; only exhausted retry
// budgets escalate.
const (
	// ErrCodeMessageValidation marks malformed commands dropped at intake.
	ErrCodeMessageValidation = "MESSAGE_VALIDATION"
	// ErrCodeUnknownCommand marks commands whose task type has no handler.
	ErrCodeUnknownCommand = "UNKNOWN_COMMAND"
	// ErrCodeHandlerExecution marks handler failures (error return or panic).
	ErrCodeHandlerExecution = "HANDLER_EXECUTION"
	// ErrCodeValidationFailure marks results rejected by the validation hook.
	ErrCodeValidationFailure = "VALIDATION_FAILURE"
	// ErrCodeQueueOverflow marks commands rejected because the agent's bounded
	// queue was at capacity.
	ErrCodeQueueOverflow = "QUEUE_OVERFLOW"
)

// DuplicateAgentError is returned by Bus.RegisterAgent when the agent id is
// already present. Callers must treat it as non-fatal and fall back to a
// status sync.
type DuplicateAgentError struct {
	AgentID string
}

func (e *DuplicateAgentError) Error() string {
	return fmt.Sprintf("agent %q already registered", e.AgentID)
}

// UnknownAgentError is returned by registry operations referencing an agent
// id that was never registered.
type UnknownAgentError struct {
	AgentID string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("agent %q not registered", e.AgentID)
}

// MessageValidationError reports a malformed command payload. The command is
// dropped, an AGENT_ERROR is emitted and the agent continues untouched.
type MessageValidationError struct {
	Field  string
	Reason string
}

func (e *MessageValidationError) Error() string {
	return fmt.Sprintf("invalid command field %q: %s", e.Field, e.Reason)
}

// UnknownCommandError reports a command whose task type has no registered
// handler. The task is announced failed (final) without ever being enqueued.
type UnknownCommandError struct {
	TaskID   string
	TaskType string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("no handler registered for task type %q (task %s)", e.TaskType, e.TaskID)
}

// HandlerError lets handlers attach a stable code and structured details to a
// failure; plain errors are equally accepted and coded HANDLER_EXECUTION.
type HandlerError struct {
	TaskType string
	Code     string
	Message  string
	Details  map[string]any
}

func (e *HandlerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("handler error [%s] for %s: %s", e.Code, e.TaskType, e.Message)
	}
	return fmt.Sprintf("handler error for %s: %s", e.TaskType, e.Message)
}

// NewHandlerError creates a HandlerError with the specified details.
func NewHandlerError(taskType, message, code string) *HandlerError {
	return &HandlerError{TaskType: taskType, Message: message, Code: code}
}
