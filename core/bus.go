package core

import (
	"context"
	"time"
)

// Topic layout. Command ingress and lifecycle egress are per-agent topics;
// registry status changes share one well-known topic so dashboards and
// supervisors can watch the whole mesh with a single subscription.
const (
	// StatusTopic carries AGENT_STATUS events for every registered agent.
	StatusTopic = "agent.status"

	commandTopicSuffix = ".task.command"
	eventsTopicSuffix  = ".task.events"
	topicPrefix        = "agent."
)

// CommandTopic returns the command ingress topic for an agent.
func CommandTopic(agentID string) string { return topicPrefix + agentID + commandTopicSuffix }

// EventsTopic returns the lifecycle egress topic for an agent.
func EventsTopic(agentID string) string { return topicPrefix + agentID + eventsTopicSuffix }

// EventHandler consumes one delivered event. Handlers run on the publisher's
// dispatch path; they must be quick and must not publish synchronously back to
// the same bus goroutine unless the implementation documents re-entrancy.
// Panics are recovered, logged and isolated per subscriber.
type EventHandler func(Event)

// RegistryEntry is the bus-owned liveness/status record for one agent,
// exposed through the registry query surface.
type RegistryEntry struct {
	AgentID      string       `json:"agent_id"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Status       AgentState   `json:"status"`
	CurrentTask  *TaskMessage `json:"current_task,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
	LastUpdate   time.Time    `json:"last_update"`
}

// Clone returns a deep copy safe for handing to callers.
func (r RegistryEntry) Clone() RegistryEntry {
	c := r
	if r.Capabilities != nil {
		c.Capabilities = append([]string(nil), r.Capabilities...)
	}
	if r.CurrentTask != nil {
		t := r.CurrentTask.Clone()
		c.CurrentTask = &t
	}
	return c
}

// Bus routes events by topic and tracks agent liveness/status. A bus is an
// explicit instance injected into each runtime at construction; the registry's
// lifecycle is tied to the bus (Close releases it).
//
// Semantics & guarantees:
//   - Delivery order: Publish delivers to the topic's subscribers in
//     subscription order. A panicking subscriber is recovered and logged
//     without blocking delivery to the rest or surfacing to the publisher.
//   - Subscribe returns an opaque subscription id; Unsubscribe with an
//     unknown id or topic is a no-op (idempotent).
//   - RegisterAgent fails with *DuplicateAgentError when the id is taken;
//     callers treat that as non-fatal and fall back to a status sync.
//   - UpdateAgentStatus fails with *UnknownAgentError for unregistered ids
//     and otherwise emits an AGENT_STATUS event on StatusTopic.
//   - There is no built-in durable event log; implementations may accept an
//     EventJournal (a persistence concern) that archives published events.
type Bus interface {
	// Publish routes the event to every subscriber of ev.Topic.
	Publish(ctx context.Context, ev Event) error

	// Subscribe registers a handler for a topic and returns the subscription
	// id used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler EventHandler) (string, error)

	// Unsubscribe removes a previously registered handler. Unknown ids are
	// ignored.
	Unsubscribe(ctx context.Context, topic, subscriptionID string) error

	// RegisterAgent creates the registry entry for an agent.
	RegisterAgent(ctx context.Context, agentID string, capabilities []string) error

	// UpdateAgentStatus updates the registry entry and announces the change.
	// task may be nil; lastErr is empty when the agent is healthy.
	UpdateAgentStatus(ctx context.Context, agentID string, status AgentState, task *TaskMessage, lastErr string) error

	// Registry returns a snapshot of all registry entries.
	Registry(ctx context.Context) ([]RegistryEntry, error)

	// Agent returns the registry entry for one agent, or *UnknownAgentError.
	Agent(ctx context.Context, agentID string) (RegistryEntry, error)

	// Close tears down subscriptions and releases the registry.
	Close() error
}
