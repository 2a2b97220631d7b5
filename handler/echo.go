package handler

import (
	"fmt"

	"github.com/hupe1980/taskmesh/core"
)

// Echo returns its parameters unchanged. It is the canonical wiring smoke
// test: if an echo task completes, intake, queue, processor, validation and
// persistence are all connected.
type Echo struct{}

var _ core.Handler = Echo{}

// NewEcho constructs the echo handler.
func NewEcho() Echo { return Echo{} }

// Execute copies the parameters into the result under "echo".
func (Echo) Execute(tc *core.TaskContext, params map[string]any) (map[string]any, error) {
	echoed := make(map[string]any, len(params))
	for k, v := range params {
		echoed[k] = v
	}

	tc.Logger().Debug("echo handler executed task_id=%s params=%d", tc.Task().ID, len(params))

	return map[string]any{
		"echo":    echoed,
		"summary": fmt.Sprintf("echoed %d parameters", len(params)),
	}, nil
}
