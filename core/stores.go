package core

import (
	"context"
	"time"
)

// TaskUpdate is one persisted lifecycle record for a task. The runtime
// guarantees one WORKING update per execution attempt before any terminal
// update, and exactly one terminal update per task outcome; no terminal
// state is silently dropped.
type TaskUpdate struct {
	TaskID        string     `json:"task_id"`
	Status        TaskStatus `json:"status"`
	ResultSummary string     `json:"result_summary,omitempty"`
	Details       string     `json:"details,omitempty"`
	Error         string     `json:"error,omitempty"`
	Retries       int        `json:"retries"`
	Final         bool       `json:"is_final"`
	Timestamp     time.Time  `json:"timestamp"`
}

// TaskStore is the injected persistence adapter receiving task lifecycle
// updates. Implementations decide durability; the runtime only sequences the
// calls.
type TaskStore interface {
	SaveUpdate(ctx context.Context, update TaskUpdate) error
}

// ContextStore snapshots AgentContext records. Load returns (nil, nil) when
// no snapshot exists so a fresh IDLE context is created; Archive receives the
// final TERMINATED snapshot.
type ContextStore interface {
	SaveContext(ctx context.Context, snapshot *AgentContext) error
	LoadContext(ctx context.Context, agentID string) (*AgentContext, error)
	ArchiveContext(ctx context.Context, snapshot *AgentContext) error
}

// EventJournal archives published events. The bus has no durable log of its
// own; attaching a journal makes retention a persistence-adapter concern.
type EventJournal interface {
	AppendEvent(ctx context.Context, ev Event) error
}
