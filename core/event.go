package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the kinds of events exchanged on the bus. The
// lifecycle types mirror the externally visible task state machine; consumers
// should treat unknown types as opaque and ignore them.
type EventType string

const (
	// EventTaskCommand is the ingress type carrying a command payload on an
	// agent's command topic.
	EventTaskCommand EventType = "TASK_COMMAND"
	// EventTaskAccepted signals that intake validated and enqueued a command.
	EventTaskAccepted EventType = "TASK_ACCEPTED"
	// EventTaskStarted signals that the processor began executing a task.
	EventTaskStarted EventType = "TASK_STARTED"
	// EventTaskProgress carries optional fractional progress from a handler.
	EventTaskProgress EventType = "TASK_PROGRESS"
	// EventTaskCompleted signals a validated, terminal success.
	EventTaskCompleted EventType = "TASK_COMPLETED"
	// EventTaskFailed signals a terminal failure (retry budget exhausted or
	// no handler registered for the task type).
	EventTaskFailed EventType = "TASK_FAILED"
	// EventValidationFailed signals a handler result rejected by the
	// validation hook; surfaced for review, never auto-retried.
	EventValidationFailed EventType = "VALIDATION_FAILED"
	// EventAgentError carries agent-level error payloads (malformed commands,
	// escalations).
	EventAgentError EventType = "AGENT_ERROR"
	// EventAgentStatus announces registry status changes for an agent.
	EventAgentStatus EventType = "AGENT_STATUS"
)

// ErrorInfo is the error payload attached to AGENT_ERROR and terminal failure
// events. Code values come from the taxonomy constants in errors.go.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
}

// StatusInfo is the payload of AGENT_STATUS events announcing registry
// changes.
type StatusInfo struct {
	AgentID   string     `json:"agent_id"`
	State     AgentState `json:"state"`
	TaskID    string     `json:"task_id,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// ProgressInfo is the payload of TASK_PROGRESS events. Fraction is in [0, 1];
// Details is free text for operators.
type ProgressInfo struct {
	Fraction float64 `json:"fraction"`
	Details  string  `json:"details,omitempty"`
}

// Event is the primary unit of communication between agents, collectors and
// external clients. After publication it must be treated as immutable. It
// captures:
//   - Routing (Topic) and provenance (Source)
//   - Correlation (ID, CorrelationID linking a command to its lifecycle)
//   - Exactly one typed payload (Task, Error, Status or Progress) for
//     lifecycle events, or free-form Data for command ingress
//   - Scheduling hint (Priority) and a UTC timestamp
//
// Payload pointers are nil when absent so receivers can distinguish "not
// carried" from zero values. Data may be nil for payload-free control events.
type Event struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Topic         string         `json:"topic"`
	Source        string         `json:"source_id"`
	Task          *TaskMessage   `json:"task,omitempty"`
	Error         *ErrorInfo     `json:"error,omitempty"`
	Status        *StatusInfo    `json:"status,omitempty"`
	Progress      *ProgressInfo  `json:"progress,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Priority      Priority       `json:"priority"`
	Timestamp     time.Time      `json:"timestamp"`
}

// NewEvent creates a bare event published by source on topic. Prefer the
// typed constructors below for the common lifecycle categories.
func NewEvent(typ EventType, topic, source string) Event {
	return Event{
		ID:        NewID(),
		Type:      typ,
		Topic:     topic,
		Source:    source,
		Priority:  PriorityNormal,
		Timestamp: time.Now().UTC(),
	}
}

// NewTaskEvent constructs a lifecycle event carrying a snapshot of the task.
// Topic, correlation id and priority are derived from the task so that every
// event of one command shares the same correlation chain.
func NewTaskEvent(typ EventType, source string, task TaskMessage) Event {
	e := NewEvent(typ, EventsTopic(source), source)
	snapshot := task.Clone()
	e.Task = &snapshot
	e.CorrelationID = task.CorrelationID
	e.Priority = task.Priority
	return e
}

// NewProgressEvent reports fractional handler progress for a task. Progress
// events never change task status.
func NewProgressEvent(source string, task TaskMessage, fraction float64, details string) Event {
	e := NewTaskEvent(EventTaskProgress, source, task)
	e.Progress = &ProgressInfo{Fraction: fraction, Details: details}
	return e
}

// NewErrorEvent constructs an AGENT_ERROR event on the agent's events topic.
func NewErrorEvent(source string, info ErrorInfo, correlationID string) Event {
	e := NewEvent(EventAgentError, EventsTopic(source), source)
	e.Error = &info
	e.CorrelationID = correlationID
	return e
}

// NewStatusEvent constructs an AGENT_STATUS event on the shared status topic.
func NewStatusEvent(source string, info StatusInfo) Event {
	e := NewEvent(EventAgentStatus, StatusTopic, source)
	e.Status = &info
	return e
}

// IsTerminal reports whether the event announces a terminal task outcome.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventTaskCompleted, EventTaskFailed, EventValidationFailed:
		return true
	}
	return false
}

// TaskID returns the id of the task this event refers to, consulting the
// typed payloads in order. Empty when the event is not task-scoped.
func (e Event) TaskID() string {
	if e.Task != nil {
		return e.Task.ID
	}
	if e.Error != nil && e.Error.TaskID != "" {
		return e.Error.TaskID
	}
	if e.Status != nil {
		return e.Status.TaskID
	}
	if v, ok := e.Data["task_id"].(string); ok {
		return v
	}
	return ""
}

// NewID generates a new unique identifier for events, tasks and
// subscriptions. Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }
