package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// KeyPrefix namespaces all keys ("taskmesh" by default).
	KeyPrefix string
	// JournalLimit bounds the event journal length; <= 0 keeps everything.
	JournalLimit int
	// Logging services.
	Logger logging.Logger
}

// Store is a Redis-backed implementation of TaskStore, ContextStore and
// EventJournal sharing one client.
//
// Layout:
//
//	<prefix>:task:<task_id>:updates   list of JSON TaskUpdate records
//	<prefix>:context:<agent_id>       JSON AgentContext live snapshot
//	<prefix>:context:<agent_id>:archive list of archived snapshots
//	<prefix>:journal                  list of JSON events, LTRIMed to the limit
type Store struct {
	mu      sync.Mutex
	client  *redis.Client
	options *redis.Options

	prefix       string
	journalLimit int
	logger       logging.Logger
}

var (
	_ core.TaskStore    = (*Store)(nil)
	_ core.ContextStore = (*Store)(nil)
	_ core.EventJournal = (*Store)(nil)
)

// New returns a Store backed by the Redis instance in opts.
func New(opts *redis.Options, optFns ...func(o *Options)) *Store {
	storeOpts := Options{
		KeyPrefix:    "taskmesh",
		JournalLimit: 10000,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&storeOpts)
	}

	return &Store{
		client:       redis.NewClient(opts),
		options:      opts,
		prefix:       storeOpts.KeyPrefix,
		journalLimit: storeOpts.JournalLimit,
		logger:       logging.OrNop(storeOpts.Logger),
	}
}

// ensureConnection pings the server and reconnects if necessary.
func (s *Store) ensureConnection(ctx context.Context) *redis.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Warn("redis store reconnecting: %v", err)
		s.client = redis.NewClient(s.options)
	}
	return s.client
}

func (s *Store) updatesKey(taskID string) string { return s.prefix + ":task:" + taskID + ":updates" }
func (s *Store) contextKey(agentID string) string {
	return s.prefix + ":context:" + agentID
}
func (s *Store) archiveKey(agentID string) string {
	return s.prefix + ":context:" + agentID + ":archive"
}
func (s *Store) journalKey() string { return s.prefix + ":journal" }

// SaveUpdate appends one lifecycle record to the task's update list.
func (s *Store) SaveUpdate(ctx context.Context, update core.TaskUpdate) error {
	client := s.ensureConnection(ctx)

	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal task update: %w", err)
	}
	if err := client.RPush(ctx, s.updatesKey(update.TaskID), data).Err(); err != nil {
		return fmt.Errorf("failed to save update for task %s: %w", update.TaskID, err)
	}

	return nil
}

// Updates reads a task's recorded history back in arrival order.
func (s *Store) Updates(ctx context.Context, taskID string) ([]core.TaskUpdate, error) {
	client := s.ensureConnection(ctx)

	raw, err := client.LRange(ctx, s.updatesKey(taskID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read updates for task %s: %w", taskID, err)
	}

	updates := make([]core.TaskUpdate, 0, len(raw))
	for _, item := range raw {
		var update core.TaskUpdate
		if err := json.Unmarshal([]byte(item), &update); err != nil {
			return nil, fmt.Errorf("corrupt update record for task %s: %w", taskID, err)
		}
		updates = append(updates, update)
	}

	return updates, nil
}

// SaveContext stores the agent's live context snapshot.
func (s *Store) SaveContext(ctx context.Context, snapshot *core.AgentContext) error {
	client := s.ensureConnection(ctx)

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal agent context: %w", err)
	}
	if err := client.Set(ctx, s.contextKey(snapshot.AgentID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save context for agent %s: %w", snapshot.AgentID, err)
	}

	return nil
}

// LoadContext returns the agent's live snapshot, or (nil, nil) when absent.
func (s *Store) LoadContext(ctx context.Context, agentID string) (*core.AgentContext, error) {
	client := s.ensureConnection(ctx)

	raw, err := client.Get(ctx, s.contextKey(agentID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context for agent %s: %w", agentID, err)
	}

	var snapshot core.AgentContext
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("corrupt context for agent %s: %w", agentID, err)
	}

	return &snapshot, nil
}

// ArchiveContext appends the snapshot to the agent's archive list and removes
// the live key in one transaction.
func (s *Store) ArchiveContext(ctx context.Context, snapshot *core.AgentContext) error {
	client := s.ensureConnection(ctx)

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal agent context: %w", err)
	}

	pipe := client.TxPipeline()
	pipe.RPush(ctx, s.archiveKey(snapshot.AgentID), data)
	pipe.Del(ctx, s.contextKey(snapshot.AgentID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to archive context for agent %s: %w", snapshot.AgentID, err)
	}

	return nil
}

// Archived reads the agent's archived snapshots back in archival order.
func (s *Store) Archived(ctx context.Context, agentID string) ([]*core.AgentContext, error) {
	client := s.ensureConnection(ctx)

	raw, err := client.LRange(ctx, s.archiveKey(agentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read archive for agent %s: %w", agentID, err)
	}

	archived := make([]*core.AgentContext, 0, len(raw))
	for _, item := range raw {
		var snapshot core.AgentContext
		if err := json.Unmarshal([]byte(item), &snapshot); err != nil {
			return nil, fmt.Errorf("corrupt archived context for agent %s: %w", agentID, err)
		}
		archived = append(archived, &snapshot)
	}

	return archived, nil
}

// AppendEvent pushes the event onto the journal list, trimming to the limit.
func (s *Store) AppendEvent(ctx context.Context, ev core.Event) error {
	client := s.ensureConnection(ctx)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := client.TxPipeline()
	pipe.RPush(ctx, s.journalKey(), data)
	if s.journalLimit > 0 {
		pipe.LTrim(ctx, s.journalKey(), int64(-s.journalLimit), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append event to journal: %w", err)
	}

	return nil
}

// Events reads the retained journal back in arrival order.
func (s *Store) Events(ctx context.Context) ([]core.Event, error) {
	client := s.ensureConnection(ctx)

	raw, err := client.LRange(ctx, s.journalKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	events := make([]core.Event, 0, len(raw))
	for _, item := range raw {
		var ev core.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("corrupt journal record: %w", err)
		}
		events = append(events, ev)
	}

	return events, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Close()
}
