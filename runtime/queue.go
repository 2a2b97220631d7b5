package runtime

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

var errQueueClosed = errors.New("task queue closed")

// QueueFullError is returned by Push when a bounded queue is at capacity. The
// intake path reports it to the producer as an AGENT_ERROR.
type QueueFullError struct {
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("task queue full (capacity %d)", e.Capacity)
}

// queueItem pairs a task with its arrival sequence number so equal priorities
// dequeue in FIFO order.
type queueItem struct {
	task core.TaskMessage
	seq  uint64
}

// taskHeap orders items by priority (highest first), then arrival.
type taskHeap []queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// taskQueue is the per-agent priority queue: a condition-signalled binary heap
// that delivers tasks in priority order with FIFO tie-breaks. Pop blocks until
// a task arrives, the context is cancelled or the queue is closed; there is no
// polling.
type taskQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    taskHeap
	seq      uint64
	capacity int
	closed   bool
}

// newTaskQueue creates a queue. capacity <= 0 means unbounded.
func newTaskQueue(capacity int) *taskQueue {
	q := &taskQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a task and wakes one waiting consumer. It fails with
// errQueueClosed after Close and with *QueueFullError on a bounded queue at
// capacity.
func (q *taskQueue) Push(task core.TaskMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return &QueueFullError{Capacity: q.capacity}
	}

	q.seq++
	heap.Push(&q.items, queueItem{task: task, seq: q.seq})
	q.cond.Signal()

	return nil
}

// Pop blocks until a task is available and returns it. ok is false once the
// queue is closed or ctx is cancelled; remaining items are abandoned on close
// so that shutdown only drains the in-flight task, never the backlog.
func (q *taskQueue) Pop(ctx context.Context) (core.TaskMessage, bool) {
	// Waking the cond wait on context cancellation; see the AfterFunc example
	// in the context package docs.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed || ctx.Err() != nil {
			return core.TaskMessage{}, false
		}
		if len(q.items) > 0 {
			break
		}
		q.cond.Wait()
	}

	item := heap.Pop(&q.items).(queueItem)

	return item.task, true
}

// Len returns the number of queued tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes all waiting consumers. Push and Pop
// fail afterwards; Close is idempotent.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
