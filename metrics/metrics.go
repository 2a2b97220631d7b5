package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report bus and runtime activity.
// A nil *Metrics is valid and records nothing, so callers never guard their
// observation sites.
type Metrics struct {
	eventsPublished *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	taskOutcomes    *prometheus.CounterVec
	taskRetries     *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	tasksActive     *prometheus.GaugeVec
}

var (
	defaultOnce   sync.Once
	sharedMetrics *Metrics
)

// Default returns the package-level metrics instance registered with the
// global Prometheus registry. The collectors are created only once to avoid
// duplicate registration panics when several meshes run in one process.
func Default() *Metrics {
	defaultOnce.Do(func() {
		sharedMetrics = MustNew(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNew constructs a Metrics instance using the provided registerer. Supply
// a fresh registry when unique metric names are required (for example in
// tests). Registration errors other than AlreadyRegisteredError panic, which
// mirrors promauto semantics and surfaces configuration bugs early.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	eventsPublished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmesh",
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Total number of events published, by event type.",
		},
		[]string{"type"},
	)
	handlerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskmesh",
			Subsystem: "runtime",
			Name:      "handler_duration_seconds",
			Help:      "Duration of handler executions, by task type and outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"task_type", "status"},
	)
	taskOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmesh",
			Subsystem: "runtime",
			Name:      "task_outcomes_total",
			Help:      "Terminal task outcomes, by agent and final status.",
		},
		[]string{"agent_id", "status"},
	)
	taskRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmesh",
			Subsystem: "runtime",
			Name:      "task_retries_total",
			Help:      "Number of failed attempts that were requeued for retry.",
		},
		[]string{"agent_id"},
	)
	queueDepth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskmesh",
			Subsystem: "runtime",
			Name:      "queue_depth",
			Help:      "Tasks currently waiting in each agent's queue.",
		},
		[]string{"agent_id"},
	)
	tasksActive := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskmesh",
			Subsystem: "runtime",
			Name:      "tasks_active",
			Help:      "Tasks currently being executed by each agent.",
		},
		[]string{"agent_id"},
	)

	collectors := []prometheus.Collector{eventsPublished, handlerDuration, taskOutcomes, taskRetries, queueDepth, tasksActive}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case eventsPublished:
					eventsPublished = already.ExistingCollector.(*prometheus.CounterVec)
				case handlerDuration:
					handlerDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case taskOutcomes:
					taskOutcomes = already.ExistingCollector.(*prometheus.CounterVec)
				case taskRetries:
					taskRetries = already.ExistingCollector.(*prometheus.CounterVec)
				case queueDepth:
					queueDepth = already.ExistingCollector.(*prometheus.GaugeVec)
				case tasksActive:
					tasksActive = already.ExistingCollector.(*prometheus.GaugeVec)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		eventsPublished: eventsPublished,
		handlerDuration: handlerDuration,
		taskOutcomes:    taskOutcomes,
		taskRetries:     taskRetries,
		queueDepth:      queueDepth,
		tasksActive:     tasksActive,
	}
}

// IncEventPublished counts one published event of the given type.
func (m *Metrics) IncEventPublished(eventType string) {
	if m == nil || m.eventsPublished == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// ObserveHandlerDuration records one handler execution with its outcome label
// ("ok", "error" or "panic").
func (m *Metrics) ObserveHandlerDuration(taskType, status string, duration time.Duration) {
	if m == nil || m.handlerDuration == nil {
		return
	}
	m.handlerDuration.WithLabelValues(taskType, status).Observe(duration.Seconds())
}

// IncTaskOutcome counts one terminal task outcome for an agent.
func (m *Metrics) IncTaskOutcome(agentID, status string) {
	if m == nil || m.taskOutcomes == nil {
		return
	}
	m.taskOutcomes.WithLabelValues(agentID, status).Inc()
}

// IncTaskRetry counts one requeued attempt for an agent.
func (m *Metrics) IncTaskRetry(agentID string) {
	if m == nil || m.taskRetries == nil {
		return
	}
	m.taskRetries.WithLabelValues(agentID).Inc()
}

// SetQueueDepth reports the current queue depth for an agent.
func (m *Metrics) SetQueueDepth(agentID string, depth int) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.WithLabelValues(agentID).Set(float64(depth))
}

// IncActiveTasks marks one task as executing for an agent.
func (m *Metrics) IncActiveTasks(agentID string) {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.WithLabelValues(agentID).Inc()
}

// DecActiveTasks marks one task execution as finished for an agent.
func (m *Metrics) DecActiveTasks(agentID string) {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.WithLabelValues(agentID).Dec()
}
