package persistence

import (
	"context"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// InMemoryTaskStore is a volatile TaskStore keeping every update in arrival
// order. It is safe for concurrent access and best suited for tests or
// single-process demo meshes. Query helpers read the recorded history back;
// they are not part of the TaskStore contract.
type InMemoryTaskStore struct {
	mu      sync.RWMutex
	updates []core.TaskUpdate
	byTask  map[string][]core.TaskUpdate
}

// NewInMemoryTaskStore constructs an empty in-memory task store.
func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{byTask: make(map[string][]core.TaskUpdate)}
}

// SaveUpdate appends one lifecycle record.
func (s *InMemoryTaskStore) SaveUpdate(_ context.Context, update core.TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
	s.byTask[update.TaskID] = append(s.byTask[update.TaskID], update)
	return nil
}

// Updates returns the recorded history for one task in arrival order.
func (s *InMemoryTaskStore) Updates(taskID string) []core.TaskUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.TaskUpdate(nil), s.byTask[taskID]...)
}

// All returns every recorded update in arrival order.
func (s *InMemoryTaskStore) All() []core.TaskUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.TaskUpdate(nil), s.updates...)
}

// Last returns the most recent update for a task, or false when none exists.
func (s *InMemoryTaskStore) Last(taskID string) (core.TaskUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.byTask[taskID]
	if len(history) == 0 {
		return core.TaskUpdate{}, false
	}
	return history[len(history)-1], true
}

// InMemoryContextStore is a volatile ContextStore holding one live snapshot
// per agent plus an archive of terminated contexts.
type InMemoryContextStore struct {
	mu       sync.RWMutex
	contexts map[string]*core.AgentContext
	archive  map[string][]*core.AgentContext
}

// NewInMemoryContextStore constructs an empty in-memory context store.
func NewInMemoryContextStore() *InMemoryContextStore {
	return &InMemoryContextStore{
		contexts: make(map[string]*core.AgentContext),
		archive:  make(map[string][]*core.AgentContext),
	}
}

// SaveContext stores a clone of the snapshot as the agent's live context.
func (s *InMemoryContextStore) SaveContext(_ context.Context, snapshot *core.AgentContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[snapshot.AgentID] = snapshot.Clone()
	return nil
}

// LoadContext returns a clone of the agent's live context, or (nil, nil) when
// no snapshot exists.
func (s *InMemoryContextStore) LoadContext(_ context.Context, agentID string) (*core.AgentContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.contexts[agentID]
	if !ok {
		return nil, nil
	}
	return snapshot.Clone(), nil
}

// ArchiveContext moves the agent's context into the archive. The live
// snapshot is removed so the next start begins fresh.
func (s *InMemoryContextStore) ArchiveContext(_ context.Context, snapshot *core.AgentContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive[snapshot.AgentID] = append(s.archive[snapshot.AgentID], snapshot.Clone())
	delete(s.contexts, snapshot.AgentID)
	return nil
}

// Archived returns the archived snapshots for an agent in archival order.
func (s *InMemoryContextStore) Archived(agentID string) []*core.AgentContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	archived := make([]*core.AgentContext, 0, len(s.archive[agentID]))
	for _, snapshot := range s.archive[agentID] {
		archived = append(archived, snapshot.Clone())
	}
	return archived
}
