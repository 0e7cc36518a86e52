package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clawpen/clawpen/internal/clawpen/runtime"
)

// ReconcilerConfig configures the reconciliation loop.
type ReconcilerConfig struct {
	// Interval is how often to poll container state. Defaults to 30s.
	Interval time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Reconciler repairs drift between persisted agent records and actual
// container state. A startup pass heals records left inconsistent by a crash
// between a backend call and the matching persistence write; the periodic
// loop then keeps the two in sync while the process runs.
type Reconciler struct {
	manager *Manager
	cfg     ReconcilerConfig
}

// NewReconciler creates a Reconciler over the manager's store and runtime.
func NewReconciler(m *Manager, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconciler{manager: m, cfg: cfg}
}

// Run starts the reconciliation loop. Blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.cfg.Logger.Info("reconciler starting", "interval", r.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			r.cfg.Logger.Info("reconciler stopping")
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				r.cfg.Logger.Error("reconcile pass failed", "error", err)
			}
		}
	}
}

// Reconcile runs a single pass: every stored record is checked against the
// engine's truth, orphan handles are adopted, and containers belonging to no
// record are removed.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	m := r.manager

	agents, err := m.List(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	containers, err := m.rt.List(ctx)
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	byAgent := make(map[string]runtime.Container, len(containers))
	for _, c := range containers {
		if c.AgentID != "" {
			byAgent[c.AgentID] = c
		}
	}

	known := make(map[string]bool, len(agents))
	for _, agent := range agents {
		known[agent.ID] = true
		r.reconcileAgent(ctx, agent, byAgent)
	}

	// Containers labeled with an agent id no record knows about are
	// leftovers from a crashed delete. Remove them.
	for _, c := range containers {
		if c.AgentID == "" || known[c.AgentID] {
			continue
		}
		r.cfg.Logger.Warn("removing orphan container", "agent", c.AgentID)
		if err := m.rt.Remove(ctx, c.Handle); err != nil && !errors.Is(err, runtime.ErrNotFound) {
			r.cfg.Logger.Error("failed to remove orphan container", "agent", c.AgentID, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) reconcileAgent(ctx context.Context, agent *Agent, byAgent map[string]runtime.Container) {
	m := r.manager
	mu := m.lock(agent.ID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock; a concurrent operation may have moved on.
	agent, err := m.Get(ctx, agent.ID)
	if err != nil {
		return
	}

	// A record without a handle but with a labeled container is a crash
	// between backend create and the handle write. Adopt the container.
	if agent.Handle == "" {
		if c, ok := byAgent[agent.ID]; ok {
			r.cfg.Logger.Warn("adopting unrecorded container", "agent", agent.ID)
			if err := m.store.UpdateAgentHandle(ctx, agent.ID, string(c.Handle)); err != nil {
				r.cfg.Logger.Error("failed to adopt container", "agent", agent.ID, "error", err)
				return
			}
			agent.Handle = string(c.Handle)
		} else {
			// No handle and no container. A crash between the pending write
			// and the backend create leaves the record in container_pending;
			// roll it back so the agent can be started, stopped or deleted
			// again.
			if agent.State == StateContainerPending {
				r.cfg.Logger.Warn("repairing interrupted start",
					"agent", agent.ID, "from", agent.State, "to", StateCreated)
				if err := m.store.UpdateAgentState(ctx, agent.ID, string(StateCreated), agent.LastError); err != nil {
					r.cfg.Logger.Error("failed to repair agent state", "agent", agent.ID, "error", err)
				}
			}
			return
		}
	}

	status, err := m.rt.Status(ctx, runtime.Handle(agent.Handle))
	if err != nil {
		r.cfg.Logger.Error("failed to query container status", "agent", agent.ID, "error", err)
		return
	}

	if status.State == runtime.StateGone {
		// The container is gone entirely; the handle points at nothing.
		repaired := agent.State
		if repaired != StateFailed {
			repaired = StateStopped
		}
		r.cfg.Logger.Warn("clearing stale handle",
			"agent", agent.ID, "from", agent.State, "to", repaired)
		if err := m.store.UpdateAgentState(ctx, agent.ID, string(repaired), agent.LastError); err != nil {
			r.cfg.Logger.Error("failed to repair agent state", "agent", agent.ID, "error", err)
			return
		}
		if err := m.store.UpdateAgentHandle(ctx, agent.ID, ""); err != nil {
			r.cfg.Logger.Error("failed to clear stale handle", "agent", agent.ID, "error", err)
		}
		return
	}

	repaired := repairedState(agent.State, status.State)
	if repaired == agent.State {
		return
	}

	r.cfg.Logger.Warn("repairing agent state",
		"agent", agent.ID, "from", agent.State, "to", repaired, "engine", status.State)
	if err := m.store.UpdateAgentState(ctx, agent.ID, string(repaired), agent.LastError); err != nil {
		r.cfg.Logger.Error("failed to repair agent state", "agent", agent.ID, "error", err)
	}
}

// repairedState maps a stored state plus the engine's truth onto the state
// the record should hold. The engine wins whenever the two disagree.
func repairedState(recorded State, engine runtime.State) State {
	switch engine {
	case runtime.StateRunning:
		if recorded == StateRunning {
			return recorded
		}
		return StateRunning
	case runtime.StateCreated:
		// The container exists but never started. A record parked in
		// container_pending here would reject every operation, so settle on
		// stopped; an explicit start reuses the container.
		if recorded == StateStopped || recorded == StateFailed {
			return recorded
		}
		return StateStopped
	case runtime.StateExited, runtime.StateStopped:
		if recorded == StateStopped || recorded == StateFailed {
			return recorded
		}
		return StateStopped
	default:
		return recorded
	}
}
