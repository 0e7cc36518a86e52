// Package lifecycle owns agent records and drives them through their state
// machine, delegating container work to a runtime backend.
package lifecycle

import (
	"time"
)

// State is the lifecycle state of a managed agent.
type State string

const (
	StateCreated          State = "created"
	StateConfiguring      State = "configuring"
	StateContainerPending State = "container_pending"
	StateRunning          State = "running"
	StateStopping         State = "stopping"
	StateStopped          State = "stopped"
	StateRemoving         State = "removing"
	StateDeleted          State = "deleted"
	StateFailed           State = "failed"
)

// transitions is the closed set of legal state edges. Anything not listed is
// rejected with ErrInvalidTransition. Failed is reachable from every
// non-terminal state and is handled separately.
var transitions = map[State][]State{
	StateCreated:          {StateConfiguring, StateContainerPending, StateRemoving},
	StateConfiguring:      {StateCreated, StateStopped, StateFailed},
	StateContainerPending: {StateRunning},
	StateRunning:          {StateStopping},
	StateStopping:         {StateStopped},
	StateStopped:          {StateConfiguring, StateContainerPending, StateRemoving},
	StateRemoving:         {StateDeleted},
	StateFailed:           {StateConfiguring, StateContainerPending, StateRemoving},
}

// canTransition reports whether from → to is a legal edge. Failed is an
// absorbing state reachable from any non-terminal state.
func canTransition(from, to State) bool {
	if to == StateFailed {
		return from != StateDeleted
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// startable reports whether an agent in this state may be started.
func startable(s State) bool {
	return s == StateCreated || s == StateStopped || s == StateFailed
}

// Config is an agent's merged configuration. Creation merges caller
// overrides onto template defaults field by field; unset fields fall back to
// hardcoded defaults.
type Config struct {
	Image       string            `json:"image,omitempty"`
	Provider    string            `json:"provider,omitempty"`
	Model       string            `json:"model,omitempty"`
	MemoryMB    int               `json:"memory_mb,omitempty"`
	CPUCores    float64           `json:"cpu_cores,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Mounts      []Mount           `json:"mounts,omitempty"`
	Secrets     []string          `json:"secrets,omitempty"`
	Ports       []int             `json:"ports,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	MeshNetwork bool              `json:"mesh_network,omitempty"`
}

// Mount is a host path bound into the agent's container.
type Mount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// Agent is the in-memory view of a managed agent.
type Agent struct {
	// ID is assigned at creation and immutable.
	ID string `json:"id"`

	// Name is unique across agents and changes only via Rename.
	Name string `json:"name"`

	// Template is the name of the template the config was merged from, if
	// any.
	Template string `json:"template,omitempty"`

	State  State  `json:"state"`
	Config Config `json:"config"`

	// Handle is the backend container handle. It is set while a container
	// exists for the agent (pending, running, stopping or stopped but not
	// yet removed) and empty otherwise.
	Handle string `json:"handle,omitempty"`

	// LastError holds the sanitized reason for the most recent Failed
	// transition.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
