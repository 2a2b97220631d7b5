package handler

import (
	"fmt"
	"time"

	"github.com/hupe1980/taskmesh/core"
)

// Sleep simulates long-running work: it waits for the requested duration,
// reporting fractional progress along the way, and completes with a summary.
// Cancellation through the task context aborts the wait with an error.
//
// Parameters:
//
//	duration - Go duration string ("150ms", "2s"); defaults to one second
type Sleep struct {
	// ProgressSteps is the number of progress events emitted across the wait.
	ProgressSteps int
}

var _ core.Handler = (*Sleep)(nil)

// NewSleep constructs the sleep handler with four progress steps.
func NewSleep() *Sleep { return &Sleep{ProgressSteps: 4} }

// Execute waits out the duration in ProgressSteps slices.
func (h *Sleep) Execute(tc *core.TaskContext, params map[string]any) (map[string]any, error) {
	duration := time.Second
	if raw, ok := params["duration"].(string); ok && raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, core.NewHandlerError(tc.Task().Type, fmt.Sprintf("invalid duration %q: %v", raw, err), "INVALID_DURATION")
		}
		duration = parsed
	}

	steps := h.ProgressSteps
	if steps < 1 {
		steps = 1
	}
	slice := duration / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		select {
		case <-tc.Done():
			return nil, fmt.Errorf("sleep aborted: %w", tc.Err())
		case <-time.After(slice):
		}
		if err := tc.Progress(float64(i)/float64(steps), fmt.Sprintf("slept %s of %s", time.Duration(i)*slice, duration)); err != nil {
			tc.Logger().Warn("sleep handler progress publish failed: %v", err)
		}
	}

	return map[string]any{
		"summary": fmt.Sprintf("slept %s", duration),
		"slept":   duration.String(),
	}, nil
}
