package handler

import (
	"fmt"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/util"
	"github.com/hupe1980/taskmesh/model"
)

const maxCompletionSummary = 120

// CompletionOptions configures the completion handler.
type CompletionOptions struct {
	// System is an optional system instruction sent with every request.
	System string

	// PromptTemplate, when set, is rendered against the task parameters to
	// produce the prompt. When empty the handler requires a "prompt" string
	// parameter instead.
	PromptTemplate string
}

// Completion turns a task into a single model completion. The generated text,
// finish reason and token usage land in the task result; validation and retry
// semantics come from the runtime like for any other handler.
type Completion struct {
	model model.Model
	opts  CompletionOptions
}

var _ core.Handler = (*Completion)(nil)

// NewCompletion constructs a model-backed handler.
func NewCompletion(m model.Model, optFns ...func(o *CompletionOptions)) *Completion {
	opts := CompletionOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Completion{
		model: m,
		opts:  opts,
	}
}

// Execute builds the prompt, calls the model and maps the response into a
// task result.
func (h *Completion) Execute(tc *core.TaskContext, params map[string]any) (map[string]any, error) {
	prompt, err := h.buildPrompt(tc, params)
	if err != nil {
		return nil, err
	}

	info := h.model.Info()
	start := time.Now()

	tc.Logger().Debug("completion handler calling model name=%s provider=%s", info.Name, info.Provider)

	resp, err := h.model.Complete(tc.Context(), model.Request{
		System: h.opts.System,
		Prompt: prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("model completion failed: %w", err)
	}

	tc.Logger().Debug("completion handler finished name=%s duration_ms=%d finish_reason=%s", info.Name, time.Since(start).Milliseconds(), resp.FinishReason)

	result := map[string]any{
		"text":          resp.Text,
		"summary":       util.TruncateString(resp.Text, maxCompletionSummary),
		"finish_reason": resp.FinishReason,
		"model":         info.Name,
	}

	if resp.Usage != nil {
		result["tokens"] = map[string]any{
			"prompt":     resp.Usage.PromptTokens,
			"completion": resp.Usage.CompletionTokens,
			"total":      resp.Usage.TotalTokens,
		}
	}

	return result, nil
}

func (h *Completion) buildPrompt(tc *core.TaskContext, params map[string]any) (string, error) {
	if h.opts.PromptTemplate != "" {
		rendered, err := util.RenderTemplate(h.opts.PromptTemplate, params)
		if err != nil {
			return "", core.NewHandlerError(tc.Task().Type, fmt.Sprintf("prompt template failed: %v", err), "PROMPT_TEMPLATE")
		}
		return rendered, nil
	}

	prompt, ok := params["prompt"].(string)
	if !ok || prompt == "" {
		return "", core.NewHandlerError(tc.Task().Type, "missing required string parameter \"prompt\"", "MISSING_PROMPT")
	}

	return prompt, nil
}
