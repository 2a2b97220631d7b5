package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/taskmesh/core"
)

// Recorder captures published events for test assertions. Subscribe its
// Handle method to the topics under test:
//
//	rec := testutil.NewRecorder()
//	_, _ = busInstance.Subscribe(ctx, core.EventsTopic("worker-1"), rec.Handle)
//
// All methods are safe for concurrent use; the wait helpers poll because
// events may arrive on bus dispatch goroutines.
type Recorder struct {
	mu     sync.Mutex
	events []core.Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Handle appends a delivered event; it satisfies core.EventHandler.
func (r *Recorder) Handle(ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a snapshot of everything recorded so far, in arrival order.
func (r *Recorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

// OfType returns the recorded events of one type, in arrival order.
func (r *Recorder) OfType(typ core.EventType) []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []core.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// TaskEvents returns the recorded events referring to one task, in arrival
// order.
func (r *Recorder) TaskEvents(taskID string) []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []core.Event
	for _, ev := range r.events {
		if ev.TaskID() == taskID {
			out = append(out, ev)
		}
	}
	return out
}

// WaitFor polls until a recorded event matches pred and returns it, failing
// the test after timeout.
func (r *Recorder) WaitFor(t *testing.T, timeout time.Duration, pred func(ev core.Event) bool) core.Event {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, ev := range r.events {
			if pred(ev) {
				r.mu.Unlock()
				return ev
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("timed out after %s waiting for event", timeout)
	return core.Event{}
}

// WaitForType waits for the first event of the given type; a non-empty taskID
// additionally filters on the task the event refers to.
func (r *Recorder) WaitForType(t *testing.T, typ core.EventType, taskID string) core.Event {
	t.Helper()

	return r.WaitFor(t, 2*time.Second, func(ev core.Event) bool {
		return ev.Type == typ && (taskID == "" || ev.TaskID() == taskID)
	})
}
