package core

import (
	"fmt"
	"time"
)

// Command is the ingress payload accepted on an agent's command topic. It is
// the producer-facing half of TaskMessage: routing and scheduling fields only,
// no lifecycle state.
type Command struct {
	TaskID        string         `json:"task_id" yaml:"task_id"`
	TaskType      string         `json:"task_type" yaml:"task_type"`
	Params        map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Priority      Priority       `json:"priority" yaml:"priority"`
	CorrelationID string         `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
}

// Normalize fills the generated fields producers may omit: TaskID and
// CorrelationID get fresh UUIDs, an invalid zero priority becomes NORMAL.
func (c *Command) Normalize() {
	if c.TaskID == "" {
		c.TaskID = NewID()
	}
	if c.CorrelationID == "" {
		c.CorrelationID = NewID()
	}
	if !c.Priority.Valid() {
		c.Priority = PriorityNormal
	}
}

// Validate checks producer-side required fields.
func (c Command) Validate() error {
	if c.TaskType == "" {
		return &MessageValidationError{Field: "task_type", Reason: "required"}
	}
	if !c.Priority.Valid() {
		return &MessageValidationError{Field: "priority", Reason: fmt.Sprintf("level %d out of range", int(c.Priority))}
	}
	return nil
}

// Task converts the command into a fresh TaskMessage with zero status; intake
// advances it to ACCEPTED.
func (c Command) Task() TaskMessage {
	t := TaskMessage{
		ID:            c.TaskID,
		Type:          c.TaskType,
		Priority:      c.Priority,
		CorrelationID: c.CorrelationID,
	}
	if c.Params != nil {
		t.Params = make(map[string]any, len(c.Params))
		for k, v := range c.Params {
			t.Params[k] = v
		}
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.LastUpdate = now
	return t
}

// NewCommandEvent encodes the command into an event on the target agent's
// command topic. Source identifies the producer (another agent, a collector,
// the mesh façade).
func NewCommandEvent(source, agentID string, cmd Command) Event {
	e := NewEvent(EventTaskCommand, CommandTopic(agentID), source)
	e.Data = map[string]any{
		"task_id":   cmd.TaskID,
		"task_type": cmd.TaskType,
		"priority":  cmd.Priority.String(),
	}
	if cmd.Params != nil {
		e.Data["params"] = cmd.Params
	}
	if cmd.CorrelationID != "" {
		e.Data["correlation_id"] = cmd.CorrelationID
	}
	e.CorrelationID = cmd.CorrelationID
	e.Priority = cmd.Priority
	return e
}

// ParseCommand decodes and validates a command event payload. Every defect is
// reported as a *MessageValidationError naming the offending field; events
// with valid payloads never fail.
func ParseCommand(ev Event) (Command, error) {
	var cmd Command
	if len(ev.Data) == 0 {
		return cmd, &MessageValidationError{Field: "data", Reason: "empty command payload"}
	}

	id, ok := ev.Data["task_id"].(string)
	if !ok || id == "" {
		return cmd, &MessageValidationError{Field: "task_id", Reason: "required string"}
	}
	cmd.TaskID = id

	typ, ok := ev.Data["task_type"].(string)
	if !ok || typ == "" {
		return cmd, &MessageValidationError{Field: "task_type", Reason: "required string"}
	}
	cmd.TaskType = typ

	if raw, present := ev.Data["params"]; present && raw != nil {
		params, ok := raw.(map[string]any)
		if !ok {
			return cmd, &MessageValidationError{Field: "params", Reason: fmt.Sprintf("expected object, got %T", raw)}
		}
		cmd.Params = params
	}

	prio, err := ParsePriority(ev.Data["priority"])
	if err != nil {
		return cmd, &MessageValidationError{Field: "priority", Reason: err.Error()}
	}
	cmd.Priority = prio

	if cid, ok := ev.Data["correlation_id"].(string); ok && cid != "" {
		cmd.CorrelationID = cid
	} else if ev.CorrelationID != "" {
		cmd.CorrelationID = ev.CorrelationID
	}

	return cmd, nil
}
