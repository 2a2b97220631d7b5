package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/core"
)

func queuedTask(id string, prio core.Priority) core.TaskMessage {
	return core.TaskMessage{ID: id, Type: "echo", Priority: prio, Status: core.StatusAccepted}
}

func TestTaskQueue_PriorityOrder(t *testing.T) {
	q := newTaskQueue(0)

	require.NoError(t, q.Push(queuedTask("low", core.PriorityLow)))
	require.NoError(t, q.Push(queuedTask("high", core.PriorityHigh)))
	require.NoError(t, q.Push(queuedTask("normal", core.PriorityNormal)))
	require.NoError(t, q.Push(queuedTask("medium", core.PriorityMedium)))

	var order []string
	for i := 0; i < 4; i++ {
		task, ok := q.Pop(context.Background())
		require.True(t, ok)
		order = append(order, task.ID)
	}

	assert.Equal(t, []string{"high", "medium", "normal", "low"}, order)
	assert.Equal(t, 0, q.Len())
}

func TestTaskQueue_FIFOOnEqualPriority(t *testing.T) {
	q := newTaskQueue(0)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(queuedTask(id, core.PriorityNormal)))
	}

	var order []string
	for i := 0; i < 3; i++ {
		task, ok := q.Pop(context.Background())
		require.True(t, ok)
		order = append(order, task.ID)
	}

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTaskQueue_PopBlocksUntilPush(t *testing.T) {
	q := newTaskQueue(0)

	got := make(chan core.TaskMessage, 1)
	go func() {
		task, ok := q.Pop(context.Background())
		if ok {
			got <- task
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(queuedTask("late", core.PriorityNormal)))

	select {
	case task := <-got:
		assert.Equal(t, "late", task.ID)
	case <-time.After(time.Second):
		t.Fatal("pop did not observe the push")
	}
}

func TestTaskQueue_PopHonorsContext(t *testing.T) {
	q := newTaskQueue(0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, ok := q.Pop(ctx)

	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTaskQueue_CloseAbandonsBacklog(t *testing.T) {
	q := newTaskQueue(0)

	require.NoError(t, q.Push(queuedTask("a", core.PriorityNormal)))
	require.NoError(t, q.Push(queuedTask("b", core.PriorityNormal)))

	q.Close()

	_, ok := q.Pop(context.Background())
	assert.False(t, ok)

	err := q.Push(queuedTask("c", core.PriorityNormal))
	assert.ErrorIs(t, err, errQueueClosed)
}

func TestTaskQueue_Capacity(t *testing.T) {
	q := newTaskQueue(1)

	require.NoError(t, q.Push(queuedTask("a", core.PriorityNormal)))

	err := q.Push(queuedTask("b", core.PriorityNormal))
	require.Error(t, err)

	var full *QueueFullError
	require.ErrorAs(t, err, &full)
	assert.Equal(t, 1, full.Capacity)

	// Draining frees the slot.
	_, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.NoError(t, q.Push(queuedTask("b", core.PriorityNormal)))
}
