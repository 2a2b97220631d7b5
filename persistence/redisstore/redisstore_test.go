package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/core"
)

func newTestStore(t *testing.T, optFns ...func(o *Options)) *Store {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	store := New(&redis.Options{Addr: s.Addr()}, optFns...)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStore_TaskUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	statuses := []core.TaskStatus{core.StatusWorking, core.StatusPending, core.StatusWorking, core.StatusFailed}
	for i, status := range statuses {
		update := core.TaskUpdate{TaskID: "task-1", Status: status, Retries: i}
		if status == core.StatusFailed {
			update.Final = true
			update.Error = "boom"
		}
		require.NoError(t, store.SaveUpdate(ctx, update))
	}

	updates, err := store.Updates(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, updates, 4)
	assert.Equal(t, core.StatusWorking, updates[0].Status)
	assert.Equal(t, core.StatusFailed, updates[3].Status)
	assert.True(t, updates[3].Final)
	assert.Equal(t, "boom", updates[3].Error)

	empty, err := store.Updates(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_ContextLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	loaded, err := store.LoadContext(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, loaded, "missing context must load as nil")

	snapshot := core.NewAgentContext("w1", "testing")
	snapshot.State = core.StateBusy
	snapshot.Memory["counter"] = float64(7)
	require.NoError(t, store.SaveContext(ctx, snapshot))

	loaded, err = store.LoadContext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, core.StateBusy, loaded.State)
	assert.Equal(t, float64(7), loaded.Memory["counter"])

	loaded.State = core.StateTerminated
	require.NoError(t, store.ArchiveContext(ctx, loaded))

	live, err := store.LoadContext(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, live, "live snapshot must be removed after archive")

	archived, err := store.Archived(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, core.StateTerminated, archived[0].State)
}

func TestStore_JournalTrimsToLimit(t *testing.T) {
	store := newTestStore(t, func(o *Options) {
		o.JournalLimit = 3
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendEvent(ctx, core.NewEvent(core.EventTaskProgress, "topic.j", "w1")))
	}

	events, err := store.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
