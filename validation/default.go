package validation

import (
	"fmt"

	"github.com/hupe1980/taskmesh/core"
)

// Default is the stock validation hook applied when a runtime is constructed
// without one. It rejects empty results and flags, without failing, results
// that carry no usable summary.
type Default struct{}

var _ core.Validator = Default{}

// NewDefault returns the stock validator.
func NewDefault() Default { return Default{} }

// Validate fails nil or empty results; everything else passes. A result
// without a string "summary" key passes with an advisory detail.
func (Default) Validate(task core.TaskMessage, result map[string]any) core.Verdict {
	if len(result) == 0 {
		return core.Verdict{
			Passed:  false,
			Details: fmt.Sprintf("task %s of type %s produced an empty result", task.ID, task.Type),
		}
	}
	if s, ok := result["summary"].(string); !ok || s == "" {
		return core.Verdict{
			Passed:  true,
			Details: "result carries no summary",
		}
	}
	return core.Verdict{Passed: true}
}
