package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustNew_RecordsObservations(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())

	m.IncEventPublished("TASK_COMPLETED")
	m.IncEventPublished("TASK_COMPLETED")
	m.IncTaskRetry("worker-1")
	m.IncTaskOutcome("worker-1", "COMPLETED")
	m.SetQueueDepth("worker-1", 3)
	m.IncActiveTasks("worker-1")
	m.ObserveHandlerDuration("echo", "ok", 25*time.Millisecond)

	if got := testutil.ToFloat64(m.eventsPublished.WithLabelValues("TASK_COMPLETED")); got != 2 {
		t.Fatalf("expected 2 published events, got %v", got)
	}
	if got := testutil.ToFloat64(m.taskRetries.WithLabelValues("worker-1")); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.taskOutcomes.WithLabelValues("worker-1", "COMPLETED")); got != 1 {
		t.Fatalf("expected 1 outcome, got %v", got)
	}
	if got := testutil.ToFloat64(m.queueDepth.WithLabelValues("worker-1")); got != 3 {
		t.Fatalf("expected queue depth 3, got %v", got)
	}

	m.DecActiveTasks("worker-1")
	if got := testutil.ToFloat64(m.tasksActive.WithLabelValues("worker-1")); got != 0 {
		t.Fatalf("expected 0 active tasks, got %v", got)
	}
}

func TestMustNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNew(reg)
	b := MustNew(reg) // second construction must not panic

	a.IncTaskRetry("worker-1")
	b.IncTaskRetry("worker-1")
	if got := testutil.ToFloat64(a.taskRetries.WithLabelValues("worker-1")); got != 2 {
		t.Fatalf("expected shared counter at 2, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.IncEventPublished("TASK_COMPLETED")
	m.ObserveHandlerDuration("echo", "ok", time.Second)
	m.IncTaskOutcome("a", "FAILED")
	m.IncTaskRetry("a")
	m.SetQueueDepth("a", 1)
	m.IncActiveTasks("a")
	m.DecActiveTasks("a")
}
