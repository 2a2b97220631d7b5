package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/metrics"
)

// subscription binds one handler to a topic. The id is handed back to the
// subscriber for later removal.
type subscription struct {
	id      string
	handler core.EventHandler
}

// Options holds dependency + configuration overrides passed to NewInMemory().
type Options struct {
	// Journal, when set, receives every published event for archival.
	Journal core.EventJournal
	// Metrics collectors; nil disables instrumentation.
	Metrics *metrics.Metrics
	// Logging services.
	Logger logging.Logger
}

// InMemory is a process-local Bus. Publish delivers synchronously to the
// topic's subscribers in subscription order; a panicking handler is recovered
// and logged without affecting the rest. Registry state lives in a map guarded
// by the same lock discipline as the topic table.
//
// Suitable for single-process meshes and tests. Use redisbus.Bus to span
// processes.
type InMemory struct {
	mu       sync.RWMutex
	topics   map[string][]subscription
	registry map[string]*core.RegistryEntry
	closed   bool

	journal core.EventJournal
	metrics *metrics.Metrics
	logger  logging.Logger
}

var _ core.Bus = (*InMemory)(nil)

// NewInMemory constructs an empty in-memory bus with optional overrides.
func NewInMemory(optFns ...func(o *Options)) *InMemory {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &InMemory{
		topics:   make(map[string][]subscription),
		registry: make(map[string]*core.RegistryEntry),
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		logger:   logging.OrNop(opts.Logger),
	}
}

// Publish routes the event to every subscriber of ev.Topic in subscription
// order. Delivery happens on the caller's goroutine; handler panics are
// isolated per subscriber.
func (b *InMemory) Publish(ctx context.Context, ev core.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus closed")
	}
	subs := append([]subscription(nil), b.topics[ev.Topic]...)
	b.mu.RUnlock()

	start := time.Now()
	for _, sub := range subs {
		b.deliver(sub, ev)
	}

	b.metrics.IncEventPublished(string(ev.Type))
	b.logger.Debug("bus published event type=%s topic=%s subscribers=%d took=%s", ev.Type, ev.Topic, len(subs), time.Since(start))

	if b.journal != nil {
		if err := b.journal.AppendEvent(ctx, ev); err != nil {
			b.logger.Warn("bus journal append failed event_id=%s: %v", ev.ID, err)
		}
	}

	return nil
}

func (b *InMemory) deliver(sub subscription, ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus subscriber panicked subscription_id=%s topic=%s: %v", sub.id, ev.Topic, r)
		}
	}()
	sub.handler(ev)
}

// Subscribe registers a handler for a topic and returns its subscription id.
func (b *InMemory) Subscribe(_ context.Context, topic string, handler core.EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("nil handler for topic %s", topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("bus closed")
	}

	sub := subscription{id: core.NewID(), handler: handler}
	b.topics[topic] = append(b.topics[topic], sub)
	b.logger.Debug("bus subscription added topic=%s subscription_id=%s", topic, sub.id)

	return sub.id, nil
}

// Unsubscribe removes a previously registered handler. Unknown topics or ids
// are ignored.
func (b *InMemory) Unsubscribe(_ context.Context, topic, subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	for i, sub := range subs {
		if sub.id == subscriptionID {
			b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			if len(b.topics[topic]) == 0 {
				delete(b.topics, topic)
			}
			return nil
		}
	}

	return nil
}

// RegisterAgent creates the registry entry for an agent. A taken id yields
// *core.DuplicateAgentError.
func (b *InMemory) RegisterAgent(_ context.Context, agentID string, capabilities []string) error {
	if agentID == "" {
		return fmt.Errorf("empty agent id")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus closed")
	}
	if _, exists := b.registry[agentID]; exists {
		return &core.DuplicateAgentError{AgentID: agentID}
	}

	b.registry[agentID] = &core.RegistryEntry{
		AgentID:      agentID,
		Capabilities: append([]string(nil), capabilities...),
		Status:       core.StateIdle,
		LastUpdate:   time.Now().UTC(),
	}
	b.logger.Info("agent registered agent_id=%s capabilities=%v", agentID, capabilities)

	return nil
}

// UpdateAgentStatus updates the registry entry and announces the change with
// an AGENT_STATUS event on the shared status topic.
func (b *InMemory) UpdateAgentStatus(ctx context.Context, agentID string, status core.AgentState, task *core.TaskMessage, lastErr string) error {
	b.mu.Lock()
	entry, ok := b.registry[agentID]
	if !ok {
		b.mu.Unlock()
		return &core.UnknownAgentError{AgentID: agentID}
	}

	entry.Status = status
	entry.LastError = lastErr
	entry.LastUpdate = time.Now().UTC()
	if task != nil {
		snapshot := task.Clone()
		entry.CurrentTask = &snapshot
	} else {
		entry.CurrentTask = nil
	}

	info := core.StatusInfo{AgentID: agentID, State: status, LastError: lastErr}
	if task != nil {
		info.TaskID = task.ID
	}
	b.mu.Unlock()

	return b.Publish(ctx, core.NewStatusEvent(agentID, info))
}

// Registry returns a snapshot of all registry entries.
func (b *InMemory) Registry(_ context.Context) ([]core.RegistryEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := make([]core.RegistryEntry, 0, len(b.registry))
	for _, entry := range b.registry {
		entries = append(entries, entry.Clone())
	}

	return entries, nil
}

// Agent returns the registry entry for one agent.
func (b *InMemory) Agent(_ context.Context, agentID string) (core.RegistryEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.registry[agentID]
	if !ok {
		return core.RegistryEntry{}, &core.UnknownAgentError{AgentID: agentID}
	}

	return entry.Clone(), nil
}

// Close drops all subscriptions and registry entries. Further calls on the
// bus fail; Close itself is idempotent.
func (b *InMemory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.topics = make(map[string][]subscription)
	b.registry = make(map[string]*core.RegistryEntry)

	return nil
}
