// Package persistence provides in-memory implementations of the storage
// interfaces defined in core: TaskStore for task lifecycle updates,
// ContextStore for agent context snapshots and EventJournal for archived
// events.
//
// The in-memory stores keep full read-back query surfaces (Updates, Last,
// Archived, ByCorrelation) so tests and demos can assert on persisted state.
// Durable Redis-backed counterparts live in the redisstore subpackage.
package persistence
