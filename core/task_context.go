package core

import (
	"context"

	"github.com/hupe1980/taskmesh/logging"
)

// MemoryAccessor exposes the owning agent's context memory to handlers. The
// runtime implements it behind the per-agent lock so handlers never touch the
// AgentContext directly.
type MemoryAccessor interface {
	MemoryGet(key string) (any, bool)
	MemorySet(key string, value any)
}

// TaskContext is the scoped execution environment handed to a Handler for one
// task attempt. It carries:
//   - The cancellation context bounding the attempt (including the shutdown
//     drain window)
//   - An immutable snapshot of the task being executed
//   - Progress emission back onto the agent's events topic
//   - Mediated access to agent memory and a contextual logger
//
// A fresh TaskContext is built per attempt; retries observe the incremented
// Retries counter in their snapshot.
type TaskContext struct {
	ctx     context.Context
	agentID string
	task    TaskMessage
	bus     Bus
	memory  MemoryAccessor

	logger logging.Logger
}

// NewTaskContext assembles the execution context for one task attempt.
// memory may be nil for runtimes without context memory; logger nil falls
// back to the no-op logger.
func NewTaskContext(ctx context.Context, agentID string, task TaskMessage, bus Bus, memory MemoryAccessor, logger logging.Logger) *TaskContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &TaskContext{
		ctx:     ctx,
		agentID: agentID,
		task:    task.Clone(),
		bus:     bus,
		memory:  memory,
		logger:  logger,
	}
}

// Context returns the cancellation context bounding this attempt.
func (tc *TaskContext) Context() context.Context { return tc.ctx }

// Done returns a channel closed when the attempt is cancelled.
func (tc *TaskContext) Done() <-chan struct{} { return tc.ctx.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (tc *TaskContext) Err() error { return tc.ctx.Err() }

// AgentID returns the owning agent's id.
func (tc *TaskContext) AgentID() string { return tc.agentID }

// Task returns a copy of the task snapshot for this attempt.
func (tc *TaskContext) Task() TaskMessage { return tc.task.Clone() }

// Logger returns the contextual logger for this attempt.
func (tc *TaskContext) Logger() logging.Logger { return tc.logger }

// Progress publishes a TASK_PROGRESS event with a fractional completion value
// and free-text details. Progress never changes task status; failures to
// publish are returned so handlers may log and continue.
func (tc *TaskContext) Progress(fraction float64, details string) error {
	if tc.bus == nil {
		return nil
	}
	return tc.bus.Publish(tc.ctx, NewProgressEvent(tc.agentID, tc.task, fraction, details))
}

// MemoryGet reads a key from the agent's context memory.
func (tc *TaskContext) MemoryGet(key string) (any, bool) {
	if tc.memory == nil {
		return nil, false
	}
	return tc.memory.MemoryGet(key)
}

// MemorySet writes a key into the agent's context memory. The runtime
// persists the context after the attempt completes.
func (tc *TaskContext) MemorySet(key string, value any) {
	if tc.memory == nil {
		return
	}
	tc.memory.MemorySet(key, value)
}
