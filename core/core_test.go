package core

import (
	"context"
	"sync"
)

type testLogger struct{}

func (l testLogger) Debug(string, ...any) {}
func (l testLogger) Info(string, ...any)  {}
func (l testLogger) Warn(string, ...any)  {}
func (l testLogger) Error(string, ...any) {}

// recordingBus captures published events so tests can assert on them without a
// real bus implementation.
type recordingBus struct {
	mu        sync.Mutex
	published []Event
}

func (b *recordingBus) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, ev)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, EventHandler) (string, error) {
	return NewID(), nil
}

func (b *recordingBus) Unsubscribe(context.Context, string, string) error { return nil }

func (b *recordingBus) RegisterAgent(context.Context, string, []string) error { return nil }

func (b *recordingBus) UpdateAgentStatus(context.Context, string, AgentState, *TaskMessage, string) error {
	return nil
}

func (b *recordingBus) Registry(context.Context) ([]RegistryEntry, error) {
	return []RegistryEntry{}, nil
}

func (b *recordingBus) Agent(_ context.Context, agentID string) (RegistryEntry, error) {
	return RegistryEntry{}, &UnknownAgentError{AgentID: agentID}
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.published...)
}

type mapMemory struct {
	mu   sync.Mutex
	data map[string]any
}

func newMapMemory() *mapMemory { return &mapMemory{data: map[string]any{}} }

func (m *mapMemory) MemoryGet(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *mapMemory) MemorySet(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func newTaskForTest(id, taskType string, prio Priority) TaskMessage {
	cmd := Command{TaskID: id, TaskType: taskType, Priority: prio}
	cmd.Normalize()
	return cmd.Task()
}
