package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/util"
)

// attemptOutcome carries the handler goroutine's tagged result back to the
// processor loop: a result map on success, an error on the failure arm.
type attemptOutcome struct {
	result map[string]any
	err    error
}

// processLoop is the single task consumer for this agent. It runs until the
// queue is closed or ctx is cancelled.
func (r *Runtime) processLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("processor panic agent_id=%s: %v\n%s", r.cfg.AgentID, rec, debug.Stack())
		}
	}()

	for {
		task, ok := r.queue.Pop(ctx)
		if !ok {
			return
		}
		r.metrics.SetQueueDepth(r.cfg.AgentID, r.queue.Len())
		r.processTask(ctx, task)
	}
}

// processTask drives one execution attempt: WORKING persist, BUSY context,
// TASK_STARTED, handler invocation, then the success or failure arm.
func (r *Runtime) processTask(ctx context.Context, task core.TaskMessage) {
	if err := task.Advance(core.StatusWorking); err != nil {
		r.logger.Error("dropping task %s: %v", task.ID, err)
		r.releaseTaskID(task.ID)
		return
	}

	r.saveUpdate(ctx, core.TaskUpdate{
		TaskID:    task.ID,
		Status:    core.StatusWorking,
		Retries:   task.Retries,
		Timestamp: task.LastUpdate,
	})

	r.setAgentState(ctx, core.StateBusy, &task, "")

	if err := r.bus.Publish(ctx, core.NewTaskEvent(core.EventTaskStarted, r.cfg.AgentID, task)); err != nil {
		r.logger.Warn("failed to publish TASK_STARTED for task %s: %v", task.ID, err)
	}

	r.logger.Info("task started agent_id=%s task_id=%s task_type=%s attempt=%d", r.cfg.AgentID, task.ID, task.Type, task.Retries+1)

	r.metrics.IncActiveTasks(r.cfg.AgentID)
	start := time.Now()

	outcome := r.runHandler(ctx, task)

	duration := time.Since(start)
	r.metrics.DecActiveTasks(r.cfg.AgentID)

	if outcome.err != nil {
		r.metrics.ObserveHandlerDuration(task.Type, "error", duration)
		r.failAttempt(ctx, task, outcome.err)
		return
	}

	r.metrics.ObserveHandlerDuration(task.Type, "ok", duration)
	r.completeAttempt(ctx, task, outcome.result)
}

// runHandler executes the task's handler in its own goroutine so CPU-bound
// work never blocks the loop, and folds panics into the failure arm. The
// result is awaited even through shutdown: the drain window cancels the
// attempt context and a conforming handler returns promptly.
func (r *Runtime) runHandler(ctx context.Context, task core.TaskMessage) attemptOutcome {
	handler := r.handlers[task.Type]

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tc := core.NewTaskContext(attemptCtx, r.cfg.AgentID, task, r.bus, contextMemory{r: r}, r.logger)

	outcomeCh := make(chan attemptOutcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("handler panic task_id=%s task_type=%s: %v\n%s", task.ID, task.Type, rec, debug.Stack())
				outcomeCh <- attemptOutcome{err: fmt.Errorf("handler panicked: %v", rec)}
			}
		}()

		result, err := handler.Execute(tc, task.Params)
		outcomeCh <- attemptOutcome{result: result, err: err}
	}()

	return <-outcomeCh
}

// failAttempt handles the failure arm: below the retry budget the task is
// persisted PENDING and requeued; at the budget it fails terminally with
// TASK_FAILED + AGENT_ERROR and the agent escalates to ERROR.
func (r *Runtime) failAttempt(ctx context.Context, task core.TaskMessage, execErr error) {
	task.Retries++
	task.Error = execErr.Error()

	if task.Retries < r.maxRetries {
		if err := task.Advance(core.StatusPending); err != nil {
			r.logger.Error("task %s: %v", task.ID, err)
			return
		}

		r.saveUpdate(ctx, core.TaskUpdate{
			TaskID:    task.ID,
			Status:    core.StatusPending,
			Error:     task.Error,
			Retries:   task.Retries,
			Timestamp: task.LastUpdate,
		})

		r.metrics.IncTaskRetry(r.cfg.AgentID)
		r.logger.Warn("task attempt failed, retrying agent_id=%s task_id=%s retries=%d max_retries=%d: %v", r.cfg.AgentID, task.ID, task.Retries, r.maxRetries, execErr)

		if err := r.queue.Push(task); err != nil {
			// Shutdown closed the queue; the retry is abandoned with PENDING
			// as the last persisted state.
			r.logger.Warn("retry for task %s dropped: %v", task.ID, err)
			r.releaseTaskID(task.ID)
		}

		r.setAgentState(ctx, core.StateIdle, nil, "")

		return
	}

	if err := task.Advance(core.StatusFailed); err != nil {
		r.logger.Error("task %s: %v", task.ID, err)
		return
	}
	task.Final = true

	r.saveUpdate(ctx, core.TaskUpdate{
		TaskID:    task.ID,
		Status:    core.StatusFailed,
		Error:     task.Error,
		Retries:   task.Retries,
		Final:     true,
		Timestamp: task.LastUpdate,
	})

	r.metrics.IncTaskOutcome(r.cfg.AgentID, string(core.StatusFailed))
	r.releaseTaskID(task.ID)

	if err := r.bus.Publish(ctx, core.NewTaskEvent(core.EventTaskFailed, r.cfg.AgentID, task)); err != nil {
		r.logger.Warn("failed to publish TASK_FAILED for task %s: %v", task.ID, err)
	}

	info := core.ErrorInfo{Code: errorCode(execErr), Message: execErr.Error(), TaskID: task.ID}
	if err := r.bus.Publish(ctx, core.NewErrorEvent(r.cfg.AgentID, info, task.CorrelationID)); err != nil {
		r.logger.Warn("failed to publish AGENT_ERROR for task %s: %v", task.ID, err)
	}

	r.logger.Error("task failed, retry budget exhausted agent_id=%s task_id=%s retries=%d: %v", r.cfg.AgentID, task.ID, task.Retries, execErr)

	r.setAgentState(ctx, core.StateError, nil, execErr.Error())
}

// completeAttempt handles the success arm: the result passes the validation
// hook into COMPLETED, or moves the task to VALIDATION_FAILED (terminal,
// never auto-retried, agent state untouched).
func (r *Runtime) completeAttempt(ctx context.Context, task core.TaskMessage, result map[string]any) {
	verdict := r.validator.Validate(task.Clone(), result)

	if !verdict.Passed {
		if err := task.Advance(core.StatusValidationFailed); err != nil {
			r.logger.Error("task %s: %v", task.ID, err)
			return
		}
		task.Error = verdict.Details
		task.Final = true

		r.saveUpdate(ctx, core.TaskUpdate{
			TaskID:    task.ID,
			Status:    core.StatusValidationFailed,
			Details:   verdict.Details,
			Retries:   task.Retries,
			Final:     true,
			Timestamp: task.LastUpdate,
		})

		r.metrics.IncTaskOutcome(r.cfg.AgentID, string(core.StatusValidationFailed))
		r.releaseTaskID(task.ID)

		if err := r.bus.Publish(ctx, core.NewTaskEvent(core.EventValidationFailed, r.cfg.AgentID, task)); err != nil {
			r.logger.Warn("failed to publish VALIDATION_FAILED for task %s: %v", task.ID, err)
		}

		r.logger.Warn("task result rejected by validation agent_id=%s task_id=%s: %s", r.cfg.AgentID, task.ID, verdict.Details)

		r.setAgentState(ctx, core.StateIdle, nil, "")

		return
	}

	if err := task.Advance(core.StatusCompleted); err != nil {
		r.logger.Error("task %s: %v", task.ID, err)
		return
	}
	task.Result = result
	task.Final = true

	r.saveUpdate(ctx, core.TaskUpdate{
		TaskID:        task.ID,
		Status:        core.StatusCompleted,
		ResultSummary: util.Summarize(result),
		Details:       verdict.Details,
		Retries:       task.Retries,
		Final:         true,
		Timestamp:     task.LastUpdate,
	})

	r.metrics.IncTaskOutcome(r.cfg.AgentID, string(core.StatusCompleted))
	r.releaseTaskID(task.ID)

	if err := r.bus.Publish(ctx, core.NewTaskEvent(core.EventTaskCompleted, r.cfg.AgentID, task)); err != nil {
		r.logger.Warn("failed to publish TASK_COMPLETED for task %s: %v", task.ID, err)
	}

	r.logger.Info("task completed agent_id=%s task_id=%s task_type=%s retries=%d", r.cfg.AgentID, task.ID, task.Type, task.Retries)

	r.setAgentState(ctx, core.StateIdle, nil, "")
}

// saveUpdate forwards one lifecycle record to the task store. The adapter
// owns durability; failures are logged and the loop continues.
func (r *Runtime) saveUpdate(ctx context.Context, update core.TaskUpdate) {
	if err := r.taskStore.SaveUpdate(ctx, update); err != nil {
		r.logger.Error("failed to persist task update task_id=%s status=%s: %v", update.TaskID, update.Status, err)
	}
}

// errorCode maps a handler failure onto the error taxonomy, honoring custom
// codes carried by *core.HandlerError.
func errorCode(err error) string {
	var herr *core.HandlerError
	if errors.As(err, &herr) && herr.Code != "" {
		return herr.Code
	}
	return core.ErrCodeHandlerExecution
}
