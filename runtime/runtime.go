package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/metrics"
	"github.com/hupe1980/taskmesh/persistence"
	"github.com/hupe1980/taskmesh/validation"
)

// Config identifies the agent a Runtime embodies.
type Config struct {
	// AgentID is the unique agent identifier; required.
	AgentID string

	// Domain is a free-text responsibility label stored on the agent context.
	Domain string

	// Capabilities are advertised through the bus registry.
	Capabilities []string

	// Dependencies name agents this one relies on; recorded on fresh contexts.
	Dependencies []string
}

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Handlers maps task types to their executors. Commands with an
	// unregistered type are rejected at intake.
	Handlers map[string]core.Handler

	// TaskStore receives task lifecycle updates.
	// Defaults to the in-memory implementation.
	TaskStore core.TaskStore

	// ContextStore snapshots the agent context.
	// Defaults to the in-memory implementation.
	ContextStore core.ContextStore

	// Validator gates task completion. Defaults to validation.Default.
	Validator core.Validator

	// MaxRetries bounds execution attempts per task. A permanently failing
	// handler runs exactly MaxRetries times before the task fails terminally.
	MaxRetries int

	// DrainTimeout bounds how long Stop waits for an in-flight handler before
	// cancelling its context.
	DrainTimeout time.Duration

	// QueueCapacity bounds the task queue; 0 means unbounded.
	QueueCapacity int

	// Logging services.
	Logger logging.Logger

	// Metrics receives runtime instrumentation; nil disables it.
	Metrics *metrics.Metrics
}

// lifecycle tracks a Runtime through NEW, RUNNING, STOPPING and STOPPED.
type lifecycle int

const (
	stateNew lifecycle = iota
	stateRunning
	stateStopping
	stateStopped
)

// Runtime hosts one agent: it registers on the bus, accepts commands on the
// agent's command topic, executes them in priority order through a single
// processor goroutine and reports lifecycle events back on the bus. Create
// with New, then Start; Runtimes are not reusable after Stop.
type Runtime struct {
	cfg Config
	bus core.Bus

	handlers     map[string]core.Handler
	taskStore    core.TaskStore
	contextStore core.ContextStore
	validator    core.Validator
	maxRetries   int
	drainTimeout time.Duration

	queue *taskQueue

	logger  logging.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    lifecycle
	agentCtx *core.AgentContext
	active   map[string]struct{}
	subID    string

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New constructs a Runtime for the given agent on the given bus.
func New(cfg Config, bus core.Bus, optFns ...func(o *Options)) (*Runtime, error) {
	if cfg.AgentID == "" {
		return nil, errors.New("agent id is required")
	}
	if bus == nil {
		return nil, errors.New("bus is required")
	}

	opts := Options{
		TaskStore:    persistence.NewInMemoryTaskStore(),
		ContextStore: persistence.NewInMemoryContextStore(),
		Validator:    validation.NewDefault(),
		MaxRetries:   3,
		DrainTimeout: 5 * time.Second,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}

	handlers := make(map[string]core.Handler, len(opts.Handlers))
	for taskType, h := range opts.Handlers {
		handlers[taskType] = h
	}

	return &Runtime{
		cfg:          cfg,
		bus:          bus,
		handlers:     handlers,
		taskStore:    opts.TaskStore,
		contextStore: opts.ContextStore,
		validator:    opts.Validator,
		maxRetries:   opts.MaxRetries,
		drainTimeout: opts.DrainTimeout,
		queue:        newTaskQueue(opts.QueueCapacity),
		logger:       logging.OrNop(opts.Logger),
		metrics:      opts.Metrics,
		active:       make(map[string]struct{}),
	}, nil
}

// AgentID returns the agent identifier this runtime embodies.
func (r *Runtime) AgentID() string { return r.cfg.AgentID }

// AgentContext returns a snapshot of the agent's operational context, or nil
// before Start.
func (r *Runtime) AgentContext() *core.AgentContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.agentCtx == nil {
		return nil
	}

	return r.agentCtx.Clone()
}

// QueueDepth returns the number of tasks waiting for execution.
func (r *Runtime) QueueDepth() int { return r.queue.Len() }

// Start brings the runtime online: it registers the agent on the bus (a
// duplicate registration degrades to a status sync), restores or creates the
// agent context, subscribes the command topic and spawns the processor
// goroutine. Calling Start twice is a warning no-op.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != stateNew {
		r.mu.Unlock()
		r.logger.Warn("start ignored, runtime already started agent_id=%s", r.cfg.AgentID)
		return nil
	}
	r.state = stateRunning
	r.loopCtx, r.loopCancel = context.WithCancel(context.Background())
	r.loopDone = make(chan struct{})
	r.mu.Unlock()

	// The processor starts before the subscription so abortStart can always
	// tear it down through loopCancel; the queue stays empty until intake is
	// wired up.
	go r.processLoop(r.loopCtx, r.loopDone)

	if err := r.bus.RegisterAgent(ctx, r.cfg.AgentID, r.cfg.Capabilities); err != nil {
		var dup *core.DuplicateAgentError
		if !errors.As(err, &dup) {
			r.abortStart()
			return fmt.Errorf("failed to register agent %s: %w", r.cfg.AgentID, err)
		}
		r.logger.Warn("agent %s already registered, syncing status instead", r.cfg.AgentID)
	}

	agentCtx, err := r.restoreContext(ctx)
	if err != nil {
		r.abortStart()
		return err
	}

	r.mu.Lock()
	r.agentCtx = agentCtx
	r.mu.Unlock()

	if err := r.contextStore.SaveContext(ctx, agentCtx.Clone()); err != nil {
		r.abortStart()
		return fmt.Errorf("failed to persist agent context: %w", err)
	}

	subID, err := r.bus.Subscribe(ctx, core.CommandTopic(r.cfg.AgentID), r.handleCommandEvent)
	if err != nil {
		r.abortStart()
		return fmt.Errorf("failed to subscribe command topic: %w", err)
	}

	r.mu.Lock()
	r.subID = subID
	r.mu.Unlock()

	if err := r.bus.UpdateAgentStatus(ctx, r.cfg.AgentID, core.StateIdle, nil, ""); err != nil {
		r.logger.Warn("failed to sync agent status agent_id=%s: %v", r.cfg.AgentID, err)
	}

	r.logger.Info("runtime started agent_id=%s domain=%s handlers=%d", r.cfg.AgentID, r.cfg.Domain, len(r.handlers))

	return nil
}

// restoreContext loads the persisted agent context or builds a fresh one. A
// restored snapshot keeps its memory and domain but resets the operational
// state: in-flight work did not survive the restart.
func (r *Runtime) restoreContext(ctx context.Context) (*core.AgentContext, error) {
	snapshot, err := r.contextStore.LoadContext(ctx, r.cfg.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent context: %w", err)
	}

	if snapshot == nil {
		agentCtx := core.NewAgentContext(r.cfg.AgentID, r.cfg.Domain)
		if len(r.cfg.Dependencies) > 0 {
			agentCtx.Dependencies = append([]string(nil), r.cfg.Dependencies...)
		}
		return agentCtx, nil
	}

	snapshot.State = core.StateIdle
	snapshot.CurrentTask = nil
	if snapshot.Memory == nil {
		snapshot.Memory = map[string]any{}
	}
	snapshot.Touch()

	r.logger.Info("agent context restored agent_id=%s memory_keys=%d", r.cfg.AgentID, len(snapshot.Memory))

	return snapshot, nil
}

// abortStart rolls the lifecycle back after a failed Start so the caller may
// retry. Side effects already applied (a bus registration, a persisted
// context) are harmless on retry.
func (r *Runtime) abortStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loopCancel()
	r.state = stateNew
}

// Stop takes the runtime offline: intake stops immediately, an in-flight
// handler gets DrainTimeout to finish before its context is cancelled, queued
// but unstarted tasks are abandoned, and the agent context moves through
// SHUTDOWN_READY to TERMINATED with a final persisted and archived snapshot.
// Stop before Start and repeated Stop are no-ops.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case stateNew:
		r.mu.Unlock()
		r.logger.Warn("stop ignored, runtime never started agent_id=%s", r.cfg.AgentID)
		return nil
	case stateStopping, stateStopped:
		r.mu.Unlock()
		return nil
	}
	r.state = stateStopping
	subID := r.subID
	r.mu.Unlock()

	r.logger.Info("runtime stopping agent_id=%s drain_timeout=%s", r.cfg.AgentID, r.drainTimeout)

	if err := r.bus.Unsubscribe(ctx, core.CommandTopic(r.cfg.AgentID), subID); err != nil {
		r.logger.Warn("failed to unsubscribe command topic agent_id=%s: %v", r.cfg.AgentID, err)
	}

	r.queue.Close()

	select {
	case <-r.loopDone:
	case <-time.After(r.drainTimeout):
		r.logger.Warn("drain window elapsed, cancelling in-flight handler agent_id=%s", r.cfg.AgentID)
		r.loopCancel()
		select {
		case <-r.loopDone:
		case <-ctx.Done():
			return fmt.Errorf("failed to stop runtime %s: %w", r.cfg.AgentID, ctx.Err())
		}
	}
	r.loopCancel()

	r.setAgentState(ctx, core.StateShutdownReady, nil, "")

	r.mu.Lock()
	r.agentCtx.State = core.StateTerminated
	r.agentCtx.CurrentTask = nil
	r.agentCtx.Touch()
	snapshot := r.agentCtx.Clone()
	r.mu.Unlock()

	if err := r.contextStore.SaveContext(ctx, snapshot); err != nil {
		r.logger.Error("failed to persist terminated context agent_id=%s: %v", r.cfg.AgentID, err)
	}
	if err := r.contextStore.ArchiveContext(ctx, snapshot); err != nil {
		r.logger.Error("failed to archive agent context agent_id=%s: %v", r.cfg.AgentID, err)
	}
	if err := r.bus.UpdateAgentStatus(ctx, r.cfg.AgentID, core.StateTerminated, nil, ""); err != nil {
		r.logger.Warn("failed to announce termination agent_id=%s: %v", r.cfg.AgentID, err)
	}

	r.mu.Lock()
	r.state = stateStopped
	r.mu.Unlock()

	r.logger.Info("runtime stopped agent_id=%s", r.cfg.AgentID)

	return nil
}

// running reports whether the runtime currently accepts commands.
func (r *Runtime) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRunning
}

// claimTaskID reserves a task id in the active set; false means the id is
// already queued or executing.
func (r *Runtime) claimTaskID(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[id]; exists {
		return false
	}
	r.active[id] = struct{}{}

	return true
}

// releaseTaskID frees a task id after a terminal outcome or a failed enqueue.
func (r *Runtime) releaseTaskID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// setAgentState mutates the agent context under the per-agent lock, persists
// the snapshot and syncs the bus registry. Persistence or sync failures are
// logged; the in-memory context remains authoritative.
func (r *Runtime) setAgentState(ctx context.Context, state core.AgentState, task *core.TaskMessage, lastErr string) {
	r.mu.Lock()
	r.agentCtx.State = state
	if task != nil {
		t := task.Clone()
		r.agentCtx.CurrentTask = &t
	} else {
		r.agentCtx.CurrentTask = nil
	}
	r.agentCtx.Touch()
	snapshot := r.agentCtx.Clone()
	r.mu.Unlock()

	if err := r.contextStore.SaveContext(ctx, snapshot); err != nil {
		r.logger.Error("failed to persist agent context agent_id=%s state=%s: %v", r.cfg.AgentID, state, err)
	}
	if err := r.bus.UpdateAgentStatus(ctx, r.cfg.AgentID, state, task, lastErr); err != nil {
		r.logger.Warn("failed to sync agent status agent_id=%s state=%s: %v", r.cfg.AgentID, state, err)
	}
}

// contextMemory mediates handler access to AgentContext.Memory behind the
// per-agent lock. The surrounding attempt persists the context afterwards.
type contextMemory struct {
	r *Runtime
}

var _ core.MemoryAccessor = contextMemory{}

func (m contextMemory) MemoryGet(key string) (any, bool) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()

	v, ok := m.r.agentCtx.Memory[key]
	return v, ok
}

func (m contextMemory) MemorySet(key string, value any) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()

	if m.r.agentCtx.Memory == nil {
		m.r.agentCtx.Memory = map[string]any{}
	}
	m.r.agentCtx.Memory[key] = value
}
