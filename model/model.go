package model

import (
	"context"
	"fmt"
	"sync"
)

// Request captures one normalized completion request.
type Request struct {
	// System is the optional system instruction.
	System string `json:"system,omitempty"`
	// Prompt is the user-facing input text.
	Prompt string `json:"prompt"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the completed model output.
type Response struct {
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface model-backed handlers use to drive
// generation. Complete blocks until the provider returns; implementations
// must honor ctx cancellation.
type Model interface {
	Complete(ctx context.Context, req Request) (Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	err       error
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// FailWith makes every following Complete call return err; pass nil to heal.
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Complete implements Model; returns the canned completion for the prompt or
// a deterministic echo when none is registered.
func (m *MockModel) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Response{}, m.err
	}

	text := m.responses[req.Prompt]
	if text == "" {
		text = fmt.Sprintf("Mock response to: %s", req.Prompt)
	}

	return Response{Text: text, FinishReason: "stop"}, nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
