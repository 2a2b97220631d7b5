package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/core"
)

func taskOfType(taskType string) core.TaskMessage {
	return core.TaskMessage{ID: "task-v", Type: taskType}
}

func TestDefault_Validate(t *testing.T) {
	v := NewDefault()

	verdict := v.Validate(taskOfType("echo"), nil)
	assert.False(t, verdict.Passed)
	assert.Contains(t, verdict.Details, "empty result")

	verdict = v.Validate(taskOfType("echo"), map[string]any{})
	assert.False(t, verdict.Passed)

	verdict = v.Validate(taskOfType("echo"), map[string]any{"data": 42})
	assert.True(t, verdict.Passed)
	assert.Contains(t, verdict.Details, "no summary")

	verdict = v.Validate(taskOfType("echo"), map[string]any{"summary": "done"})
	assert.True(t, verdict.Passed)
	assert.Empty(t, verdict.Details)
}

func TestSchemaValidator_Validate(t *testing.T) {
	v := NewSchemaValidator()
	require.NoError(t, v.Register("report", `{
		"type": "object",
		"properties": {
			"summary": {"type": "string", "minLength": 1},
			"score": {"type": "number", "minimum": 0, "maximum": 1}
		},
		"required": ["summary", "score"]
	}`))

	verdict := v.Validate(taskOfType("report"), map[string]any{"summary": "done", "score": 0.9})
	assert.True(t, verdict.Passed, verdict.Details)

	verdict = v.Validate(taskOfType("report"), map[string]any{"summary": "done"})
	assert.False(t, verdict.Passed)
	assert.Contains(t, verdict.Details, "score")

	verdict = v.Validate(taskOfType("report"), map[string]any{"summary": "done", "score": 7})
	assert.False(t, verdict.Passed)
	assert.Contains(t, verdict.Details, "/score")

	// Integer-valued params survive the JSON round trip.
	verdict = v.Validate(taskOfType("report"), map[string]any{"summary": "done", "score": 1})
	assert.True(t, verdict.Passed, verdict.Details)
}

func TestSchemaValidator_FallbackForUnregisteredTypes(t *testing.T) {
	v := NewSchemaValidator()
	require.NoError(t, v.Register("report", `{"type": "object"}`))

	// Unregistered type falls back to Default: empty results fail.
	verdict := v.Validate(taskOfType("echo"), nil)
	assert.False(t, verdict.Passed)

	verdict = v.Validate(taskOfType("echo"), map[string]any{"summary": "ok"})
	assert.True(t, verdict.Passed)

	// A custom fallback replaces Default.
	permissive := NewSchemaValidator(func(o *SchemaOptions) {
		o.Fallback = core.ValidatorFunc(func(core.TaskMessage, map[string]any) core.Verdict {
			return core.Verdict{Passed: true}
		})
	})
	verdict = permissive.Validate(taskOfType("echo"), nil)
	assert.True(t, verdict.Passed)
}

func TestSchemaValidator_RegisterErrors(t *testing.T) {
	v := NewSchemaValidator()
	assert.Error(t, v.Register("bad", `{"type": `))
	assert.Panics(t, func() { v.MustRegister("bad", `{"type": `) })
}
