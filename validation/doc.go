// Package validation provides implementations of the core.Validator hook that
// gates task completion.
//
// Default rejects empty handler results. SchemaValidator validates results
// against JSON schemas registered per task type:
//
//	v := validation.NewSchemaValidator()
//	v.MustRegister("report", `{
//		"type": "object",
//		"properties": {"summary": {"type": "string"}},
//		"required": ["summary"]
//	}`)
//
// A failing verdict moves the task to VALIDATION_FAILED, which is terminal
// and never auto-retried.
package validation
