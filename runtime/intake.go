package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/taskmesh/core"
)

// runningContext returns the loop context when the runtime accepts commands.
func (r *Runtime) runningContext() (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateRunning {
		return nil, false
	}

	return r.loopCtx, true
}

// handleCommandEvent is the command-topic subscriber: it validates, de-dupes
// and enqueues incoming commands. It runs on the bus dispatch path and does
// no blocking work beyond queue and registry locks.
func (r *Runtime) handleCommandEvent(ev core.Event) {
	ctx, ok := r.runningContext()
	if !ok {
		r.logger.Debug("command ignored, runtime not running agent_id=%s event_id=%s", r.cfg.AgentID, ev.ID)
		return
	}

	cmd, err := core.ParseCommand(ev)
	if err != nil {
		r.rejectCommand(ctx, ev, err)
		return
	}

	if !r.claimTaskID(cmd.TaskID) {
		r.rejectCommand(ctx, ev, &core.MessageValidationError{
			Field:  "task_id",
			Reason: fmt.Sprintf("task %q is already active", cmd.TaskID),
		})
		return
	}

	if _, registered := r.handlers[cmd.TaskType]; !registered {
		r.releaseTaskID(cmd.TaskID)
		r.rejectUnknownType(ctx, cmd)
		return
	}

	task := cmd.Task()
	if err := task.Advance(core.StatusAccepted); err != nil {
		r.releaseTaskID(task.ID)
		r.logger.Error("failed to accept task %s: %v", task.ID, err)
		return
	}

	if err := r.queue.Push(task); err != nil {
		r.releaseTaskID(task.ID)

		var full *QueueFullError
		if errors.As(err, &full) {
			r.rejectOverflow(ctx, task, full)
			return
		}

		r.logger.Debug("command dropped, queue closed agent_id=%s task_id=%s", r.cfg.AgentID, task.ID)
		return
	}

	r.metrics.SetQueueDepth(r.cfg.AgentID, r.queue.Len())

	if err := r.bus.Publish(ctx, core.NewTaskEvent(core.EventTaskAccepted, r.cfg.AgentID, task)); err != nil {
		r.logger.Warn("failed to publish TASK_ACCEPTED for task %s: %v", task.ID, err)
	}

	r.logger.Debug("task accepted agent_id=%s task_id=%s task_type=%s priority=%s", r.cfg.AgentID, task.ID, task.Type, task.Priority)
}

// rejectCommand drops a malformed command: AGENT_ERROR out, nothing enqueued,
// agent state untouched.
func (r *Runtime) rejectCommand(ctx context.Context, ev core.Event, err error) {
	r.logger.Warn("command rejected agent_id=%s code=%s: %v", r.cfg.AgentID, core.ErrCodeMessageValidation, err)

	info := core.ErrorInfo{
		Code:    core.ErrCodeMessageValidation,
		Message: err.Error(),
		TaskID:  ev.TaskID(),
	}
	if pubErr := r.bus.Publish(ctx, core.NewErrorEvent(r.cfg.AgentID, info, ev.CorrelationID)); pubErr != nil {
		r.logger.Warn("failed to publish AGENT_ERROR: %v", pubErr)
	}
}

// rejectUnknownType announces a single final TASK_FAILED for a command whose
// task type has no handler. The task is never enqueued and never reaches the
// task store; lifecycle records begin at the first WORKING update.
func (r *Runtime) rejectUnknownType(ctx context.Context, cmd core.Command) {
	ucErr := &core.UnknownCommandError{TaskID: cmd.TaskID, TaskType: cmd.TaskType}
	r.logger.Warn("command rejected agent_id=%s code=%s: %v", r.cfg.AgentID, core.ErrCodeUnknownCommand, ucErr)

	task := cmd.Task()
	task.Status = core.StatusFailed
	task.Error = ucErr.Error()
	task.Final = true

	if err := r.bus.Publish(ctx, core.NewTaskEvent(core.EventTaskFailed, r.cfg.AgentID, task)); err != nil {
		r.logger.Warn("failed to publish TASK_FAILED for task %s: %v", cmd.TaskID, err)
	}
}

// rejectOverflow reports a command bounced off a full queue.
func (r *Runtime) rejectOverflow(ctx context.Context, task core.TaskMessage, full *QueueFullError) {
	r.logger.Warn("command rejected agent_id=%s code=%s task_id=%s: queue at capacity %d", r.cfg.AgentID, core.ErrCodeQueueOverflow, task.ID, full.Capacity)

	info := core.ErrorInfo{
		Code:    core.ErrCodeQueueOverflow,
		Message: full.Error(),
		TaskID:  task.ID,
	}
	if err := r.bus.Publish(ctx, core.NewErrorEvent(r.cfg.AgentID, info, task.CorrelationID)); err != nil {
		r.logger.Warn("failed to publish AGENT_ERROR: %v", err)
	}
}
