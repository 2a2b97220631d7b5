package core

import "time"

// AgentState is the operational state of an agent as tracked in its context
// record and the bus registry.
type AgentState string

const (
	// StateIdle means the agent is running with no task in flight.
	StateIdle AgentState = "IDLE"
	// StateBusy means the processor currently executes a task.
	StateBusy AgentState = "BUSY"
	// StateError means a task exhausted its retry budget; the agent keeps
	// processing but the escalation is surfaced for external intervention.
	StateError AgentState = "ERROR"
	// StateBlocked means the agent waits on an external dependency.
	StateBlocked AgentState = "BLOCKED"
	// StateShutdownReady means Stop was requested and intake has ceased.
	StateShutdownReady AgentState = "SHUTDOWN_READY"
	// StateTerminated is the final state; the context snapshot is archived.
	StateTerminated AgentState = "TERMINATED"
)

// AgentContext is the per-agent operational record. It is created at Start
// (restored from a ContextStore snapshot or defaulted to IDLE), mutated only
// by its owning agent under the agent's lock, persisted after every mutation
// and archived once it reaches TERMINATED.
type AgentContext struct {
	AgentID      string         `json:"agent_id"`
	Domain       string         `json:"domain,omitempty"`
	State        AgentState     `json:"state"`
	CurrentTask  *TaskMessage   `json:"current_task,omitempty"`
	Memory       map[string]any `json:"memory,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	LastUpdate   time.Time      `json:"last_update"`
}

// NewAgentContext returns a fresh IDLE context for the agent.
func NewAgentContext(agentID, domain string) *AgentContext {
	return &AgentContext{
		AgentID:    agentID,
		Domain:     domain,
		State:      StateIdle,
		Memory:     map[string]any{},
		LastUpdate: time.Now().UTC(),
	}
}

// Touch stamps LastUpdate; callers mutate fields first, then Touch, then
// persist.
func (c *AgentContext) Touch() { c.LastUpdate = time.Now().UTC() }

// Clone returns a deep copy of the context safe for snapshotting while the
// owner keeps mutating the original.
func (c *AgentContext) Clone() *AgentContext {
	clone := *c
	if c.CurrentTask != nil {
		t := c.CurrentTask.Clone()
		clone.CurrentTask = &t
	}
	if c.Memory != nil {
		clone.Memory = make(map[string]any, len(c.Memory))
		for k, v := range c.Memory {
			clone.Memory[k] = v
		}
	}
	if c.Dependencies != nil {
		clone.Dependencies = append([]string(nil), c.Dependencies...)
	}
	return &clone
}
