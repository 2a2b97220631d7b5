package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/model"
)

// recordingBus captures published events so tests can assert on progress.
type recordingBus struct {
	mu     sync.Mutex
	events []core.Event
}

func (b *recordingBus) Publish(_ context.Context, ev core.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) published() []core.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.Event(nil), b.events...)
}

func (b *recordingBus) Subscribe(context.Context, string, core.EventHandler) (string, error) {
	return "", nil
}
func (b *recordingBus) Unsubscribe(context.Context, string, string) error        { return nil }
func (b *recordingBus) RegisterAgent(context.Context, string, []string) error    { return nil }
func (b *recordingBus) UpdateAgentStatus(context.Context, string, core.AgentState, *core.TaskMessage, string) error {
	return nil
}
func (b *recordingBus) Registry(context.Context) ([]core.RegistryEntry, error) { return nil, nil }
func (b *recordingBus) Agent(_ context.Context, agentID string) (core.RegistryEntry, error) {
	return core.RegistryEntry{}, &core.UnknownAgentError{AgentID: agentID}
}
func (b *recordingBus) Close() error { return nil }

func newHandlerContext(ctx context.Context, bus core.Bus, taskType string, params map[string]any) *core.TaskContext {
	task := core.TaskMessage{
		ID:       "task-1",
		Type:     taskType,
		Params:   params,
		Priority: core.PriorityNormal,
	}
	return core.NewTaskContext(ctx, "worker-1", task, bus, nil, nil)
}

func TestEcho(t *testing.T) {
	h := NewEcho()
	tc := newHandlerContext(context.Background(), &recordingBus{}, "echo", nil)

	result, err := h.Execute(tc, map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"a": 1, "b": "x"}, result["echo"])
	assert.Equal(t, "echoed 2 parameters", result["summary"])
}

func TestEcho_NoParams(t *testing.T) {
	h := NewEcho()
	tc := newHandlerContext(context.Background(), &recordingBus{}, "echo", nil)

	result, err := h.Execute(tc, nil)
	require.NoError(t, err)

	assert.Equal(t, "echoed 0 parameters", result["summary"])
}

func TestSleep(t *testing.T) {
	bus := &recordingBus{}
	h := NewSleep()
	tc := newHandlerContext(context.Background(), bus, "sleep", nil)

	result, err := h.Execute(tc, map[string]any{"duration": "40ms"})
	require.NoError(t, err)

	assert.Equal(t, "slept 40ms", result["summary"])
	assert.Equal(t, "40ms", result["slept"])

	events := bus.published()
	require.Len(t, events, 4)
	for _, ev := range events {
		assert.Equal(t, core.EventTaskProgress, ev.Type)
		assert.Equal(t, core.EventsTopic("worker-1"), ev.Topic)
	}
	require.NotNil(t, events[3].Progress)
	assert.InDelta(t, 1.0, events[3].Progress.Fraction, 1e-9)
}

func TestSleep_InvalidDuration(t *testing.T) {
	h := NewSleep()
	tc := newHandlerContext(context.Background(), &recordingBus{}, "sleep", nil)

	_, err := h.Execute(tc, map[string]any{"duration": "soon"})
	require.Error(t, err)

	var herr *core.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "INVALID_DURATION", herr.Code)
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewSleep()
	tc := newHandlerContext(ctx, &recordingBus{}, "sleep", nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := h.Execute(tc, map[string]any{"duration": "5s"})
	require.Error(t, err)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCompletion(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.AddResponse("Say hi", "Hello!")

	h := NewCompletion(m)
	tc := newHandlerContext(context.Background(), &recordingBus{}, "generate", nil)

	result, err := h.Execute(tc, map[string]any{"prompt": "Say hi"})
	require.NoError(t, err)

	assert.Equal(t, "Hello!", result["text"])
	assert.Equal(t, "Hello!", result["summary"])
	assert.Equal(t, "stop", result["finish_reason"])
	assert.Equal(t, "test-model", result["model"])
	assert.NotContains(t, result, "tokens")
}

func TestCompletion_Template(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.AddResponse("Summarize the report about ducks", "Ducks quacked.")

	h := NewCompletion(m, func(o *CompletionOptions) {
		o.System = "You are terse."
		o.PromptTemplate = "Summarize the report about {{.topic}}"
	})
	tc := newHandlerContext(context.Background(), &recordingBus{}, "generate", nil)

	result, err := h.Execute(tc, map[string]any{"topic": "ducks"})
	require.NoError(t, err)

	assert.Equal(t, "Ducks quacked.", result["text"])
}

func TestCompletion_MissingPrompt(t *testing.T) {
	h := NewCompletion(model.NewMockModel("test-model"))
	tc := newHandlerContext(context.Background(), &recordingBus{}, "generate", nil)

	_, err := h.Execute(tc, map[string]any{"topic": "ducks"})
	require.Error(t, err)

	var herr *core.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "MISSING_PROMPT", herr.Code)
}

func TestCompletion_ModelError(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.FailWith(errors.New("rate limited"))

	h := NewCompletion(m)
	tc := newHandlerContext(context.Background(), &recordingBus{}, "generate", nil)

	_, err := h.Execute(tc, map[string]any{"prompt": "Say hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model completion failed")
	assert.Contains(t, err.Error(), "rate limited")
}

// usageModel returns a fixed response with token usage attached.
type usageModel struct{}

func (usageModel) Complete(context.Context, model.Request) (model.Response, error) {
	return model.Response{
		Text:         "ok",
		FinishReason: "stop",
		Usage:        &model.TokenUsage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
	}, nil
}

func (usageModel) Info() model.Info { return model.Info{Name: "usage", Provider: "test"} }

func TestCompletion_TokenUsage(t *testing.T) {
	h := NewCompletion(usageModel{})
	tc := newHandlerContext(context.Background(), &recordingBus{}, "generate", nil)

	result, err := h.Execute(tc, map[string]any{"prompt": "Say hi"})
	require.NoError(t, err)

	tokens, ok := result["tokens"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 8, tokens["total"])
}
