package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Priority orders tasks inside an agent's queue. Higher values are executed
// first; equal priorities fall back to arrival order. The zero value is
// PriorityLow, matching the legacy numeric encoding.
type Priority int

const (
	// PriorityLow is background work executed only when nothing else waits.
	PriorityLow Priority = iota
	// PriorityNormal is the default for commands that omit a priority.
	PriorityNormal
	// PriorityMedium sits between routine and urgent work.
	PriorityMedium
	// PriorityHigh preempts all queued lower-priority tasks.
	PriorityHigh
)

var priorityNames = map[Priority]string{
	PriorityLow:    "LOW",
	PriorityNormal: "NORMAL",
	PriorityMedium: "MEDIUM",
	PriorityHigh:   "HIGH",
}

// String returns the wire name of the priority ("LOW" ... "HIGH").
func (p Priority) String() string {
	if n, ok := priorityNames[p]; ok {
		return n
	}
	return fmt.Sprintf("PRIORITY(%d)", int(p))
}

// Valid reports whether p is one of the four defined levels.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority converts a wire value into a Priority. It accepts the
// canonical names (case-insensitive) and, for legacy producers, the numeric
// levels 0-3.
func ParsePriority(v any) (Priority, error) {
	switch val := v.(type) {
	case nil:
		return PriorityNormal, nil
	case string:
		name := strings.ToUpper(strings.TrimSpace(val))
		for p, n := range priorityNames {
			if n == name {
				return p, nil
			}
		}
		return PriorityNormal, fmt.Errorf("unknown priority %q", val)
	case Priority:
		if !val.Valid() {
			return PriorityNormal, fmt.Errorf("priority %d out of range", int(val))
		}
		return val, nil
	case int:
		return ParsePriority(Priority(val))
	case float64:
		return ParsePriority(Priority(int(val)))
	default:
		return PriorityNormal, fmt.Errorf("unsupported priority type %T", v)
	}
}

// MarshalJSON encodes the priority as its wire name.
func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("priority %d out of range", int(p))
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes either the wire name or a legacy numeric level.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParsePriority(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalYAML encodes the priority as its wire name in mailbox command files.
func (p Priority) MarshalYAML() (any, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("priority %d out of range", int(p))
	}
	return p.String(), nil
}

// UnmarshalYAML accepts the same values as UnmarshalJSON.
func (p *Priority) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := ParsePriority(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// TaskStatus is the lifecycle state of a TaskMessage. Statuses only move
// forward through the machine enforced by CanTransition; the single loop is
// WORKING → PENDING → WORKING for retries below the budget.
type TaskStatus string

const (
	// StatusAccepted marks a validated command sitting in the queue.
	StatusAccepted TaskStatus = "ACCEPTED"
	// StatusWorking marks a task currently held by the processor.
	StatusWorking TaskStatus = "WORKING"
	// StatusPending marks a failed attempt waiting for its retry.
	StatusPending TaskStatus = "PENDING"
	// StatusCompleted is the terminal success state.
	StatusCompleted TaskStatus = "COMPLETED"
	// StatusFailed is the terminal state after the retry budget is exhausted
	// or when no handler exists for the task type.
	StatusFailed TaskStatus = "FAILED"
	// StatusValidationFailed is the terminal state for results rejected by
	// the validation hook. Never auto-retried.
	StatusValidationFailed TaskStatus = "VALIDATION_FAILED"
)

// Terminal reports whether no further automatic transition occurs.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusValidationFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal forward step.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case "":
		return next == StatusAccepted
	case StatusAccepted:
		return next == StatusWorking
	case StatusWorking:
		switch next {
		case StatusPending, StatusCompleted, StatusFailed, StatusValidationFailed:
			return true
		}
	case StatusPending:
		return next == StatusWorking
	}
	return false
}

// TaskMessage is a prioritized unit of work owned by exactly one agent. The
// ID is unique within the agent's active set; CorrelationID is assigned once
// at intake and links every event the task produces. Retries counts completed
// execution attempts.
type TaskMessage struct {
	ID            string         `json:"task_id"`
	Type          string         `json:"task_type"`
	Params        map[string]any `json:"params,omitempty"`
	Priority      Priority       `json:"priority"`
	Status        TaskStatus     `json:"status,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Retries       int            `json:"retries"`
	Result        map[string]any `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	Final         bool           `json:"is_final,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastUpdate    time.Time      `json:"last_update"`
}

// Advance moves the task to the next status, enforcing the forward-only
// machine, and stamps LastUpdate.
func (t *TaskMessage) Advance(next TaskStatus) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("illegal task transition %s: %q -> %q", t.ID, t.Status, next)
	}
	t.Status = next
	t.LastUpdate = time.Now().UTC()
	return nil
}

// Clone returns a deep copy safe for independent mutation (params and result
// maps are copied one level deep).
func (t TaskMessage) Clone() TaskMessage {
	c := t
	if t.Params != nil {
		c.Params = make(map[string]any, len(t.Params))
		for k, v := range t.Params {
			c.Params[k] = v
		}
	}
	if t.Result != nil {
		c.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			c.Result[k] = v
		}
	}
	return c
}
