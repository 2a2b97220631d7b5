package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/metrics"
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// KeyPrefix namespaces the registry keys ("taskmesh" by default).
	KeyPrefix string
	// Journal, when set, receives every event published by this process.
	Journal core.EventJournal
	// Metrics collectors; nil disables instrumentation.
	Metrics *metrics.Metrics
	// Logging services.
	Logger logging.Logger
	// ReceiveBackoff builds the backoff schedule used between failed receive
	// attempts on a subscription.
	ReceiveBackoff func() backoff.BackOff
}

// subscription owns one Redis PubSub connection and the goroutine draining it.
type subscription struct {
	topic  string
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// Bus implements core.Bus on Redis: Pub/Sub for event routing and plain keys
// for the agent registry. Every subscription holds its own PubSub connection
// drained by a dedicated goroutine, with exponential backoff between failed
// receives so a Redis hiccup does not spin the loop.
//
// Registry entries live under <prefix>:registry:<agent_id> as JSON. Updates go
// through WATCH/MULTI so concurrent writers cannot interleave lost updates.
type Bus struct {
	mu      sync.Mutex
	client  *redis.Client
	options *redis.Options
	subs    map[string]*subscription
	closed  bool

	prefix     string
	journal    core.EventJournal
	metrics    *metrics.Metrics
	logger     logging.Logger
	newBackoff func() backoff.BackOff
}

var _ core.Bus = (*Bus)(nil)

// New creates a Redis-backed bus using the given connection options.
func New(opts *redis.Options, optFns ...func(o *Options)) *Bus {
	busOpts := Options{
		KeyPrefix:      "taskmesh",
		Logger:         logging.NoOpLogger{},
		ReceiveBackoff: defaultReceiveBackoff,
	}

	for _, fn := range optFns {
		fn(&busOpts)
	}

	return &Bus{
		client:     redis.NewClient(opts),
		options:    opts,
		subs:       make(map[string]*subscription),
		prefix:     busOpts.KeyPrefix,
		journal:    busOpts.Journal,
		metrics:    busOpts.Metrics,
		logger:     logging.OrNop(busOpts.Logger),
		newBackoff: busOpts.ReceiveBackoff,
	}
}

// defaultReceiveBackoff never gives up; receive loops must outlive transient
// Redis outages.
func defaultReceiveBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}

func (b *Bus) registryKey(agentID string) string {
	return b.prefix + ":registry:" + agentID
}

// ensureConnection pings the server and reconnects if necessary. Callers must
// hold b.mu.
func (b *Bus) ensureConnection(ctx context.Context) {
	if err := b.client.Ping(ctx).Err(); err != nil {
		b.logger.Warn("redis bus reconnecting: %v", err)
		b.client = redis.NewClient(b.options)
	}
}

// Publish marshals the event and sends it to its topic channel.
func (b *Bus) Publish(ctx context.Context, ev core.Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus closed")
	}
	b.ensureConnection(ctx)
	client := b.client
	b.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := client.Publish(ctx, ev.Topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", ev.Topic, err)
	}

	b.metrics.IncEventPublished(string(ev.Type))

	if b.journal != nil {
		if err := b.journal.AppendEvent(ctx, ev); err != nil {
			b.logger.Warn("redis bus journal append failed event_id=%s: %v", ev.ID, err)
		}
	}

	return nil
}

// Subscribe opens a PubSub connection for the topic and drains it on a
// dedicated goroutine. The returned id releases the connection when passed to
// Unsubscribe. The subscription is confirmed before Subscribe returns, so an
// immediately following Publish is visible to the handler.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler core.EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("nil handler for topic %s", topic)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", fmt.Errorf("bus closed")
	}
	b.ensureConnection(ctx)
	pubsub := b.client.Subscribe(ctx, topic)
	b.mu.Unlock()

	// Consume the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return "", fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{topic: topic, pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	id := core.NewID()

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	go b.receiveLoop(loopCtx, id, sub, handler)

	return id, nil
}

func (b *Bus) receiveLoop(ctx context.Context, id string, sub *subscription, handler core.EventHandler) {
	defer close(sub.done)

	bo := b.newBackoff()
	for {
		msg, err := sub.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := bo.NextBackOff()
			if delay == backoff.Stop {
				bo = b.newBackoff()
				delay = bo.NextBackOff()
			}
			b.logger.Warn("redis bus receive failed topic=%s subscription_id=%s retry_in=%s: %v", sub.topic, id, delay, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		bo.Reset()

		var ev core.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.logger.Warn("redis bus dropped undecodable payload topic=%s: %v", sub.topic, err)
			continue
		}
		b.deliver(id, sub.topic, handler, ev)
	}
}

func (b *Bus) deliver(id, topic string, handler core.EventHandler, ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("redis bus subscriber panicked subscription_id=%s topic=%s: %v", id, topic, r)
		}
	}()
	handler(ev)
}

// Unsubscribe closes the subscription's PubSub connection and waits for its
// receive loop to exit. Unknown ids are ignored.
func (b *Bus) Unsubscribe(_ context.Context, topic, subscriptionID string) error {
	b.mu.Lock()
	sub, ok := b.subs[subscriptionID]
	if ok && sub.topic == topic {
		delete(b.subs, subscriptionID)
	} else {
		ok = false
	}
	b.mu.Unlock()

	if !ok {
		return nil
	}

	sub.cancel()
	err := sub.pubsub.Close()
	<-sub.done

	return err
}

// RegisterAgent creates the registry entry for an agent. SETNX keeps two
// processes from claiming the same id.
func (b *Bus) RegisterAgent(ctx context.Context, agentID string, capabilities []string) error {
	if agentID == "" {
		return fmt.Errorf("empty agent id")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus closed")
	}
	b.ensureConnection(ctx)
	client := b.client
	b.mu.Unlock()

	entry := core.RegistryEntry{
		AgentID:      agentID,
		Capabilities: append([]string(nil), capabilities...),
		Status:       core.StateIdle,
		LastUpdate:   time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal registry entry: %w", err)
	}

	ok, err := client.SetNX(ctx, b.registryKey(agentID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to register agent %s: %w", agentID, err)
	}
	if !ok {
		return &core.DuplicateAgentError{AgentID: agentID}
	}

	b.logger.Info("agent registered agent_id=%s capabilities=%v", agentID, capabilities)

	return nil
}

// UpdateAgentStatus rewrites the registry entry under WATCH and announces the
// change on the shared status topic.
func (b *Bus) UpdateAgentStatus(ctx context.Context, agentID string, status core.AgentState, task *core.TaskMessage, lastErr string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus closed")
	}
	b.ensureConnection(ctx)
	client := b.client
	b.mu.Unlock()

	key := b.registryKey(agentID)
	err := client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return &core.UnknownAgentError{AgentID: agentID}
		}
		if err != nil {
			return err
		}

		var entry core.RegistryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return fmt.Errorf("corrupt registry entry for %s: %w", agentID, err)
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

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, data, 0)
		_, err = pipe.Exec(ctx)
		return err
	}, key)
	if err != nil {
		return err
	}

	info := core.StatusInfo{AgentID: agentID, State: status, LastError: lastErr}
	if task != nil {
		info.TaskID = task.ID
	}

	return b.Publish(ctx, core.NewStatusEvent(agentID, info))
}

// Registry scans the registry keyspace and returns a snapshot of all entries.
func (b *Bus) Registry(ctx context.Context) ([]core.RegistryEntry, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus closed")
	}
	b.ensureConnection(ctx)
	client := b.client
	b.mu.Unlock()

	entries := []core.RegistryEntry{}
	iter := client.Scan(ctx, 0, b.registryKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		raw, err := client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read registry entry %s: %w", iter.Val(), err)
		}

		var entry core.RegistryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			b.logger.Warn("redis bus skipped corrupt registry entry key=%s: %v", iter.Val(), err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan registry: %w", err)
	}

	return entries, nil
}

// Agent returns the registry entry for one agent.
func (b *Bus) Agent(ctx context.Context, agentID string) (core.RegistryEntry, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.RegistryEntry{}, fmt.Errorf("bus closed")
	}
	b.ensureConnection(ctx)
	client := b.client
	b.mu.Unlock()

	raw, err := client.Get(ctx, b.registryKey(agentID)).Result()
	if errors.Is(err, redis.Nil) {
		return core.RegistryEntry{}, &core.UnknownAgentError{AgentID: agentID}
	}
	if err != nil {
		return core.RegistryEntry{}, fmt.Errorf("failed to read registry entry for %s: %w", agentID, err)
	}

	var entry core.RegistryEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return core.RegistryEntry{}, fmt.Errorf("corrupt registry entry for %s: %w", agentID, err)
	}

	return entry, nil
}

// Close terminates all subscriptions and closes the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*subscription)
	client := b.client
	b.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		_ = sub.pubsub.Close()
		<-sub.done
	}

	return client.Close()
}
