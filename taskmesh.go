// Package taskmesh provides a high-level façade over the bus, runtime and
// registry abstractions enabling rapid construction of multi-agent task
// systems. Most applications interact with this package by:
//  1. Creating a Mesh via New() (optionally overriding the bus and stores)
//  2. Adding one or more agents with their task handlers
//  3. Starting the mesh and submitting commands (Submit or SubmitAndWait)
//
// The façade delegates task execution to runtime.Runtime while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply a Redis bus, durable
// stores and a structured logger.
package taskmesh

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/taskmesh/bus"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/metrics"
	"github.com/hupe1980/taskmesh/runtime"
)

// Options configures the Mesh instance.
type Options struct {
	// Bus carries all mesh traffic. Defaults to an in-process bus; supply a
	// redisbus.Bus to span processes.
	Bus core.Bus

	// TaskStore and ContextStore are shared by every agent that does not
	// override its own. Nil leaves each agent on its in-memory defaults.
	TaskStore    core.TaskStore
	ContextStore core.ContextStore

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// Metrics collectors shared by the bus and every agent; nil disables
	// instrumentation.
	Metrics *metrics.Metrics

	// Source labels commands submitted through the mesh.
	Source string
}

// Mesh is the high-level façade aggregating the bus and the agent runtimes.
type Mesh struct {
	bus          core.Bus
	ownsBus      bool
	taskStore    core.TaskStore
	contextStore core.ContextStore
	logger       logging.Logger
	metrics      *metrics.Metrics
	source       string

	mu       sync.Mutex
	runtimes []*runtime.Runtime
	started  bool
}

// New creates a new Mesh instance with optional overrides. Without a Bus
// override the mesh runs on its own in-memory bus and closes it on Stop.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		Source: "mesh",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	m := &Mesh{
		bus:          opts.Bus,
		taskStore:    opts.TaskStore,
		contextStore: opts.ContextStore,
		logger:       logging.OrNop(opts.Logger),
		metrics:      opts.Metrics,
		source:       opts.Source,
	}

	if m.bus == nil {
		m.bus = bus.NewInMemory(func(o *bus.Options) {
			o.Logger = opts.Logger
			o.Metrics = opts.Metrics
		})
		m.ownsBus = true
	}

	return m
}

// AddAgent constructs a runtime bound to the mesh bus. Mesh-level stores,
// logger and metrics apply unless the option functions override them. Agents
// must be added before Start.
func (m *Mesh) AddAgent(cfg runtime.Config, optFns ...func(o *runtime.Options)) (*runtime.Runtime, error) {
	fns := append([]func(o *runtime.Options){func(o *runtime.Options) {
		o.TaskStore = m.taskStore
		o.ContextStore = m.contextStore
		o.Logger = m.logger
		o.Metrics = m.metrics
	}}, optFns...)

	rt, err := runtime.New(cfg, m.bus, fns...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil, fmt.Errorf("mesh already started")
	}
	m.runtimes = append(m.runtimes, rt)

	return rt, nil
}

// Start brings every agent online. A failed start stops the agents that came
// up and leaves the mesh stopped.
func (m *Mesh) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	runtimes := append([]*runtime.Runtime(nil), m.runtimes...)
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, rt := range runtimes {
		rt := rt
		g.Go(func() error {
			if err := rt.Start(gctx); err != nil {
				return fmt.Errorf("failed to start agent %s: %w", rt.AgentID(), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, rt := range runtimes {
			if stopErr := rt.Stop(context.Background()); stopErr != nil {
				m.logger.Warn("failed to stop agent %s during rollback: %v", rt.AgentID(), stopErr)
			}
		}

		m.mu.Lock()
		m.started = false
		m.mu.Unlock()

		return err
	}

	m.logger.Info("mesh started agents=%d", len(runtimes))

	return nil
}

// Stop takes every agent offline in reverse start order and closes the bus if
// the mesh owns it. The first error is returned, later ones are logged.
func (m *Mesh) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	runtimes := append([]*runtime.Runtime(nil), m.runtimes...)
	m.mu.Unlock()

	var firstErr error

	for i := len(runtimes) - 1; i >= 0; i-- {
		if err := runtimes[i].Stop(ctx); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to stop agent %s: %w", runtimes[i].AgentID(), err)
			} else {
				m.logger.Warn("failed to stop agent %s: %v", runtimes[i].AgentID(), err)
			}
		}
	}

	if m.ownsBus {
		if err := m.bus.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close bus: %w", err)
		}
	}

	m.logger.Info("mesh stopped agents=%d", len(runtimes))

	return firstErr
}

// Submit normalizes and publishes a command to an agent's command topic and
// returns the task id.
func (m *Mesh) Submit(ctx context.Context, agentID string, cmd core.Command) (string, error) {
	if agentID == "" {
		return "", fmt.Errorf("agent id is required")
	}

	cmd.Normalize()
	if err := cmd.Validate(); err != nil {
		return "", err
	}

	if err := m.bus.Publish(ctx, core.NewCommandEvent(m.source, agentID, cmd)); err != nil {
		return "", fmt.Errorf("failed to publish command: %w", err)
	}

	m.logger.Debug("command submitted agent=%s type=%s task=%s", agentID, cmd.TaskType, cmd.TaskID)

	return cmd.TaskID, nil
}

// SubmitAndWait is a synchronous helper that submits a command and blocks
// until the task reaches a terminal event or the context ends. The returned
// event is TASK_COMPLETED, TASK_FAILED, VALIDATION_FAILED or, for commands
// rejected at intake, AGENT_ERROR.
func (m *Mesh) SubmitAndWait(ctx context.Context, agentID string, cmd core.Command) (core.Event, error) {
	if agentID == "" {
		return core.Event{}, fmt.Errorf("agent id is required")
	}

	cmd.Normalize()
	if err := cmd.Validate(); err != nil {
		return core.Event{}, err
	}

	// Subscribe before publishing so a fast agent cannot finish unseen.
	ch := make(chan core.Event, 4)
	topic := core.EventsTopic(agentID)

	subID, err := m.bus.Subscribe(ctx, topic, func(ev core.Event) {
		if ev.TaskID() != cmd.TaskID {
			return
		}
		if !ev.IsTerminal() && ev.Type != core.EventAgentError {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})
	if err != nil {
		return core.Event{}, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	defer func() {
		if err := m.bus.Unsubscribe(context.Background(), topic, subID); err != nil {
			m.logger.Warn("failed to unsubscribe from %s: %v", topic, err)
		}
	}()

	if _, err := m.Submit(ctx, agentID, cmd); err != nil {
		return core.Event{}, err
	}

	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		return core.Event{}, ctx.Err()
	}
}

// Registry returns a snapshot of every agent known to the bus.
func (m *Mesh) Registry(ctx context.Context) ([]core.RegistryEntry, error) {
	return m.bus.Registry(ctx)
}

// Agent returns the registry entry for one agent.
func (m *Mesh) Agent(ctx context.Context, agentID string) (core.RegistryEntry, error) {
	return m.bus.Agent(ctx, agentID)
}

// Bus exposes the underlying bus for collectors and custom subscribers.
func (m *Mesh) Bus() core.Bus { return m.bus }
