package persistence

import (
	"context"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// InMemoryJournal is a volatile EventJournal keeping published events in
// arrival order, bounded by an optional capacity.
type InMemoryJournal struct {
	mu       sync.RWMutex
	events   []core.Event
	capacity int
}

// NewInMemoryJournal constructs a journal retaining at most capacity events;
// capacity <= 0 means unbounded. When full, the oldest events are dropped.
func NewInMemoryJournal(capacity int) *InMemoryJournal {
	return &InMemoryJournal{capacity: capacity}
}

// AppendEvent records one published event.
func (j *InMemoryJournal) AppendEvent(_ context.Context, ev core.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	if j.capacity > 0 && len(j.events) > j.capacity {
		j.events = j.events[len(j.events)-j.capacity:]
	}
	return nil
}

// Events returns the retained events in arrival order.
func (j *InMemoryJournal) Events() []core.Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]core.Event(nil), j.events...)
}

// ByCorrelation returns the retained events carrying the given correlation id.
func (j *InMemoryJournal) ByCorrelation(correlationID string) []core.Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var matched []core.Event
	for _, ev := range j.events {
		if ev.CorrelationID == correlationID {
			matched = append(matched, ev)
		}
	}
	return matched
}
