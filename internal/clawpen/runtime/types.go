// Package runtime defines the capability contract between the lifecycle
// manager and the container engine backends.
package runtime

import "time"

// Spec describes how an agent container should be created. The lifecycle
// manager validates every field before building a Spec; backends re-assert
// the final guards via VerifySpec before touching the engine.
type Spec struct {
	// AgentID is the logical agent ID the container belongs to. It is
	// attached as a label so List can map containers back to agents.
	AgentID string
	// Name is the container name, restricted to ^[a-zA-Z0-9_-]+$, max 64.
	Name string
	// Image is the container image reference.
	Image string
	// Env holds environment variables injected into the container.
	Env map[string]string
	// Mounts are the volume bindings.
	Mounts []Mount
	// Ports are container ports published on the host. They bind to
	// loopback only unless MeshNetwork is set.
	Ports []int
	// MemoryMB is the memory limit enforced at creation time.
	MemoryMB int
	// CPUCores is the CPU allocation enforced at creation time.
	CPUCores float64
	// MeshNetwork opts the container into non-loopback port binding for
	// inter-agent reachability. Off by default.
	MeshNetwork bool
	// Labels are extra engine labels to attach.
	Labels map[string]string
}

// Mount is a single host path bound into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Handle identifies a container to the backend that created it. It is
// opaque to everything above the runtime package.
type Handle string

// State mirrors the engine-level container states the control plane cares
// about.
type State string

const (
	StateRunning  State = "running"
	StateCreated  State = "created"
	StateStopped  State = "stopped"
	StateExited   State = "exited"
	StateRemoving State = "removing"
	// StateGone means the engine has no record of the handle at all.
	StateGone    State = "gone"
	StateUnknown State = "unknown"
)

// Status holds live container status information.
type Status struct {
	Handle     Handle
	State      State
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

// Container pairs a managed container with the agent it belongs to, as
// reported by List.
type Container struct {
	AgentID string
	Handle  Handle
	State   State
}

// LogOptions controls a Logs call. Every call opens a fresh cursor; the
// backend never buffers history on behalf of the caller.
type LogOptions struct {
	// FromBeginning starts the cursor at the first retained log line
	// instead of "now".
	FromBeginning bool
	// Follow keeps the stream open, delivering lines as the container
	// produces them, until the context is cancelled or the container is
	// removed.
	Follow bool
}

// DefaultStopGrace is the grace period used when a caller passes zero to
// Stop.
const DefaultStopGrace = 10 * time.Second

// DefaultNetwork is the dedicated bridge network agent containers join.
// It gives agents inter-agent reachability without host network exposure.
const DefaultNetwork = "clawpen"

// ContainerNameFor returns the engine container name for an agent ID.
func ContainerNameFor(agentID string) string {
	return "clawpen-agent-" + agentID
}
