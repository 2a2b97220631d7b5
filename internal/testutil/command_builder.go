package testutil

import (
	"github.com/hupe1980/taskmesh/core"
)

// CommandBuilder provides a fluent helper for constructing command events in
// tests. Example:
//
//	ev := testutil.NewCommandBuilder("worker-1").Type("echo").Param("a", 1).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type CommandBuilder struct {
	source   string
	agentID  string
	taskID   string
	taskType string
	params   map[string]any
	priority core.Priority
	corrID   string
}

// NewCommandBuilder creates a builder targeting the given agent with default
// source "test-client" and task type "echo".
func NewCommandBuilder(agentID string) *CommandBuilder {
	return &CommandBuilder{
		source:   "test-client",
		agentID:  agentID,
		taskType: "echo",
		priority: core.PriorityNormal,
	}
}

// Source sets the producer id for the command event (chainable).
func (b *CommandBuilder) Source(s string) *CommandBuilder { b.source = s; return b }

// TaskID overrides the auto-generated task id (chainable).
func (b *CommandBuilder) TaskID(id string) *CommandBuilder { b.taskID = id; return b }

// Type sets the task type (chainable).
func (b *CommandBuilder) Type(taskType string) *CommandBuilder { b.taskType = taskType; return b }

// Param adds one task parameter (chainable).
func (b *CommandBuilder) Param(key string, value any) *CommandBuilder {
	if b.params == nil {
		b.params = map[string]any{}
	}
	b.params[key] = value
	return b
}

// Priority sets the scheduling priority (chainable).
func (b *CommandBuilder) Priority(p core.Priority) *CommandBuilder { b.priority = p; return b }

// Correlation sets the correlation id linking the command to its lifecycle
// events (chainable).
func (b *CommandBuilder) Correlation(id string) *CommandBuilder { b.corrID = id; return b }

// Command constructs the normalized core.Command value.
func (b *CommandBuilder) Command() core.Command {
	cmd := core.Command{
		TaskID:        b.taskID,
		TaskType:      b.taskType,
		Params:        b.params,
		Priority:      b.priority,
		CorrelationID: b.corrID,
	}
	cmd.Normalize()
	return cmd
}

// Build constructs the command event on the target agent's command topic.
func (b *CommandBuilder) Build() core.Event {
	return core.NewCommandEvent(b.source, b.agentID, b.Command())
}
