package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hupe1980/taskmesh/core"
)

// SchemaValidator validates handler results against JSON schemas registered
// per task type. Task types without a schema fall through to the Fallback
// validator. Registration and validation are safe for concurrent use.
type SchemaValidator struct {
	mu       sync.RWMutex
	schemas  map[string]*jsonschema.Schema
	fallback core.Validator
}

var _ core.Validator = (*SchemaValidator)(nil)

// SchemaOptions holds configuration overrides passed to NewSchemaValidator().
type SchemaOptions struct {
	// Fallback validates results of task types that have no registered
	// schema. Defaults to the stock Default validator.
	Fallback core.Validator
}

// NewSchemaValidator constructs an empty schema validator.
func NewSchemaValidator(optFns ...func(o *SchemaOptions)) *SchemaValidator {
	opts := SchemaOptions{
		Fallback: Default{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &SchemaValidator{
		schemas:  make(map[string]*jsonschema.Schema),
		fallback: opts.Fallback,
	}
}

// Register compiles schemaJSON and installs it for the task type, replacing a
// previous registration.
func (v *SchemaValidator) Register(taskType, schemaJSON string) error {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	url := taskType + ".schema.json"
	if err := compiler.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("failed to add schema for %s: %w", taskType, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", taskType, err)
	}

	v.mu.Lock()
	v.schemas[taskType] = schema
	v.mu.Unlock()

	return nil
}

// MustRegister is Register panicking on compile errors, for static schemas
// installed at startup.
func (v *SchemaValidator) MustRegister(taskType, schemaJSON string) {
	if err := v.Register(taskType, schemaJSON); err != nil {
		panic(err)
	}
}

// Validate checks the result against the task type's schema. Results that do
// not survive a JSON round trip fail validation outright.
func (v *SchemaValidator) Validate(task core.TaskMessage, result map[string]any) core.Verdict {
	v.mu.RLock()
	schema, ok := v.schemas[task.Type]
	v.mu.RUnlock()

	if !ok {
		return v.fallback.Validate(task, result)
	}

	// Round trip through encoding/json so the value matches what the schema
	// library expects (float64 numbers, no foreign types).
	data, err := json.Marshal(result)
	if err != nil {
		return core.Verdict{Passed: false, Details: fmt.Sprintf("result not JSON encodable: %v", err)}
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return core.Verdict{Passed: false, Details: fmt.Sprintf("result not JSON decodable: %v", err)}
	}

	if err := schema.Validate(decoded); err != nil {
		return core.Verdict{Passed: false, Details: describeSchemaError(err)}
	}

	return core.Verdict{Passed: true}
}

// describeSchemaError digs out the first leaf cause so the verdict names the
// offending location instead of the schema root.
func describeSchemaError(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}

	var detail string
	collectLeafCause(ve, &detail)
	if detail != "" {
		return detail
	}

	return ve.Error()
}

func collectLeafCause(err *jsonschema.ValidationError, detail *string) {
	if err == nil || *detail != "" {
		return
	}

	if len(err.Causes) == 0 {
		location := err.InstanceLocation
		if location == "" {
			location = "/"
		}
		*detail = fmt.Sprintf("%s: %s", location, err.Message)
		return
	}

	for _, cause := range err.Causes {
		collectLeafCause(cause, detail)
	}
}
