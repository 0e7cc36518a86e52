package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/clawpen/clawpen/common/trace"
	"github.com/clawpen/clawpen/internal/clawpen/runtime"
	"github.com/clawpen/clawpen/internal/clawpen/store"
	"github.com/clawpen/clawpen/internal/clawpen/templates"
	"github.com/clawpen/clawpen/internal/clawpen/validate"
)

// Options configures a Manager.
type Options struct {
	// AllowedMountBases bounds agent volume mount sources.
	AllowedMountBases []string

	// StopGrace is the graceful-stop window handed to the backend.
	// Defaults to runtime.DefaultStopGrace.
	StopGrace time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager drives agents through their lifecycle. Per-agent mutations are
// serialized by a lazily created per-id lock; operations on different agents
// proceed in parallel.
type Manager struct {
	store     *store.Store
	rt        runtime.Runtime
	templates *templates.Registry
	logger    *slog.Logger

	allowedMountBases []string
	stopGrace         time.Duration

	// flights dedupes concurrent starts per agent id so at most one backend
	// create is ever in flight; late callers wait for the first result.
	flights singleflight.Group

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	streams *streamRegistry
}

// NewManager creates a Manager. tmpl may be nil when no template catalog is
// configured.
func NewManager(s *store.Store, rt runtime.Runtime, tmpl *templates.Registry, opts Options) *Manager {
	if opts.StopGrace == 0 {
		opts.StopGrace = runtime.DefaultStopGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		store:             s,
		rt:                rt,
		templates:         tmpl,
		logger:            opts.Logger,
		allowedMountBases: opts.AllowedMountBases,
		stopGrace:         opts.StopGrace,
		locks:             make(map[string]*sync.Mutex),
		streams:           newStreamRegistry(),
	}
}

// lock returns the per-agent mutex for id, creating it on first use. Locks
// are never removed; the map grows with the set of agent ids ever touched.
func (m *Manager) lock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	return mu
}

// Create validates and persists a new agent in state Created. No container
// is created until the first Start. templateName may be empty.
func (m *Manager) Create(ctx context.Context, name, templateName string, overrides Config) (*Agent, error) {
	if err := validate.Name(name); err != nil {
		return nil, err
	}

	var tmpl *templates.Template
	if templateName != "" {
		if m.templates == nil {
			return nil, &validate.Error{Field: "template", Reason: "no template catalog configured"}
		}
		var err error
		tmpl, err = m.templates.Get(templateName)
		if err != nil {
			return nil, &validate.Error{Field: "template", Reason: fmt.Sprintf("unknown template %q", templateName)}
		}
	}

	cfg := mergeConfig(tmpl, overrides)
	if err := validateConfig(cfg, m.allowedMountBases); err != nil {
		return nil, err
	}

	agent := &Agent{
		ID:       uuid.NewString(),
		Name:     name,
		Template: templateName,
		State:    StateCreated,
		Config:   cfg,
	}
	rec, err := encodeAgent(agent)
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateAgent(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		return nil, err
	}
	agent.CreatedAt = rec.CreatedAt
	agent.UpdatedAt = rec.UpdatedAt

	m.logger.Info("agent created", "agent", agent.ID, "name", name, "template", templateName)
	m.appendEvent(ctx, agent.ID, "created")
	return agent, nil
}

// Get returns the persisted snapshot for an agent id.
func (m *Manager) Get(ctx context.Context, id string) (*Agent, error) {
	rec, err := m.store.GetAgent(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return decodeAgent(rec)
}

// GetByName returns the persisted snapshot for an agent name.
func (m *Manager) GetByName(ctx context.Context, name string) (*Agent, error) {
	rec, err := m.store.GetAgentByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return decodeAgent(rec)
}

// List returns snapshots of all agents, newest first.
func (m *Manager) List(ctx context.Context) ([]*Agent, error) {
	recs, err := m.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	agents := make([]*Agent, 0, len(recs))
	for _, rec := range recs {
		a, err := decodeAgent(rec)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// Start brings an agent to Running, creating its container on first start.
// Concurrent Start calls for the same id are deduplicated: the second caller
// waits for the first attempt and shares its outcome. A backend failure
// moves the agent to Failed; a later Start is a fresh attempt.
func (m *Manager) Start(ctx context.Context, id string) (*Agent, error) {
	// The flight's outcome is shared by every concurrent caller, so it must
	// not die with whichever request happened to trigger it.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := m.flights.Do(id, func() (any, error) {
		return m.startLocked(flightCtx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Agent), nil
}

func (m *Manager) startLocked(ctx context.Context, id string) (*Agent, error) {
	mu := m.lock(id)
	mu.Lock()
	defer mu.Unlock()

	agent, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.State == StateRunning {
		return agent, nil
	}
	if !startable(agent.State) {
		return nil, fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, agent.State)
	}

	if err := m.transition(ctx, agent, StateContainerPending, ""); err != nil {
		return nil, err
	}

	if agent.Handle == "" {
		handle, err := m.rt.Create(ctx, m.buildSpec(agent))
		if err != nil {
			return nil, m.failStart(ctx, agent, "create", err)
		}
		agent.Handle = string(handle)
		if err := m.store.UpdateAgentHandle(ctx, agent.ID, agent.Handle); err != nil {
			return nil, err
		}
	}

	if err := m.rt.Start(ctx, runtime.Handle(agent.Handle)); err != nil {
		return nil, m.failStart(ctx, agent, "start", err)
	}

	if err := m.transition(ctx, agent, StateRunning, ""); err != nil {
		return nil, err
	}
	m.logger.Info("agent started", "agent", agent.ID, "name", agent.Name, "trace_id", trace.FromContext(ctx))
	return agent, nil
}

// failStart moves the agent to Failed with a sanitized backend error. The
// container created during this attempt, if any, is removed best-effort so
// the next attempt starts clean.
func (m *Manager) failStart(ctx context.Context, agent *Agent, op string, cause error) error {
	if agent.Handle != "" {
		if err := m.rt.Remove(ctx, runtime.Handle(agent.Handle)); err != nil && !errors.Is(err, runtime.ErrNotFound) {
			m.logger.Warn("cleanup after failed start", "agent", agent.ID, "error", err)
		}
		agent.Handle = ""
		if err := m.store.UpdateAgentHandle(ctx, agent.ID, ""); err != nil {
			m.logger.Warn("clear handle after failed start", "agent", agent.ID, "error", err)
		}
	}
	backendErr := newBackendError(op, cause)
	if err := m.transition(ctx, agent, StateFailed, backendErr.Message); err != nil {
		m.logger.Warn("record failed state", "agent", agent.ID, "error", err)
	}
	m.logger.Error("agent start failed", "agent", agent.ID, "op", op, "error", backendErr.Message)
	return backendErr
}

// Stop brings a Running agent to Stopped. Stopping an already-stopped agent
// is a no-op. The container and its handle are kept for a later restart.
func (m *Manager) Stop(ctx context.Context, id string) (*Agent, error) {
	mu := m.lock(id)
	mu.Lock()
	defer mu.Unlock()

	agent, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.State == StateStopped {
		return agent, nil
	}
	if agent.State != StateRunning {
		return nil, fmt.Errorf("%w: cannot stop from %s", ErrInvalidTransition, agent.State)
	}

	if err := m.transition(ctx, agent, StateStopping, ""); err != nil {
		return nil, err
	}

	// Cancel attached log/chat streams before stopping; they must never
	// block the stop.
	m.streams.cancelAll(agent.ID)

	if err := m.rt.Stop(ctx, runtime.Handle(agent.Handle), m.stopGrace); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		backendErr := newBackendError("stop", err)
		if terr := m.transition(ctx, agent, StateFailed, backendErr.Message); terr != nil {
			m.logger.Warn("record failed state", "agent", agent.ID, "error", terr)
		}
		return nil, backendErr
	}

	if err := m.transition(ctx, agent, StateStopped, ""); err != nil {
		return nil, err
	}
	m.logger.Info("agent stopped", "agent", agent.ID, "name", agent.Name, "trace_id", trace.FromContext(ctx))
	return agent, nil
}

// Delete removes an agent and its container. The agent must not be Running
// or Stopping; callers stop it first. A missing container counts as already
// removed.
func (m *Manager) Delete(ctx context.Context, id string) error {
	mu := m.lock(id)
	mu.Lock()
	defer mu.Unlock()

	agent, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if agent.State == StateRunning || agent.State == StateStopping {
		return fmt.Errorf("%w: stop the agent before deleting", ErrInvalidState)
	}

	if err := m.transition(ctx, agent, StateRemoving, ""); err != nil {
		return err
	}

	m.streams.cancelAll(agent.ID)

	if agent.Handle != "" {
		err := m.rt.Remove(ctx, runtime.Handle(agent.Handle))
		if err != nil && !errors.Is(err, runtime.ErrNotFound) {
			backendErr := newBackendError("remove", err)
			if terr := m.transition(ctx, agent, StateFailed, backendErr.Message); terr != nil {
				m.logger.Warn("record failed state", "agent", agent.ID, "error", terr)
			}
			return backendErr
		}
	}

	if err := m.store.DeleteAgent(ctx, agent.ID); err != nil {
		return err
	}
	m.logger.Info("agent deleted", "agent", agent.ID, "name", agent.Name, "trace_id", trace.FromContext(ctx))
	m.appendEvent(ctx, agent.ID, "deleted")
	return nil
}

// Update applies a partial config while the agent is not Running. The agent
// passes through Configuring and returns to its prior state; the lifecycle
// state is otherwise unchanged.
func (m *Manager) Update(ctx context.Context, id string, patch Config) (*Agent, error) {
	mu := m.lock(id)
	mu.Lock()
	defer mu.Unlock()

	agent, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	prior := agent.State
	if !canTransition(prior, StateConfiguring) {
		return nil, fmt.Errorf("%w: cannot update in %s", ErrInvalidState, prior)
	}

	cfg := mergePatch(agent.Config, patch)
	if err := validateConfig(cfg, m.allowedMountBases); err != nil {
		return nil, err
	}

	if err := m.transition(ctx, agent, StateConfiguring, ""); err != nil {
		return nil, err
	}

	agent.Config = cfg
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: encode config: %w", err)
	}
	if err := m.store.UpdateAgentConfig(ctx, agent.ID, string(data)); err != nil {
		return nil, err
	}

	if err := m.transition(ctx, agent, prior, agent.LastError); err != nil {
		return nil, err
	}
	m.logger.Info("agent updated", "agent", agent.ID, "name", agent.Name)
	return agent, nil
}

// Rename changes the agent's unique name.
func (m *Manager) Rename(ctx context.Context, id, newName string) (*Agent, error) {
	if err := validate.Name(newName); err != nil {
		return nil, err
	}

	mu := m.lock(id)
	mu.Lock()
	defer mu.Unlock()

	agent, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.store.RenameAgent(ctx, agent.ID, newName); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, newName)
		}
		return nil, err
	}
	agent.Name = newName
	m.logger.Info("agent renamed", "agent", agent.ID, "name", newName)
	return agent, nil
}

// Events returns the most recent recorded events for an agent, newest
// first.
func (m *Manager) Events(ctx context.Context, id string, limit int) ([]*store.Event, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.store.ListEvents(ctx, id, limit)
}

// transition moves the agent to a new state after checking the edge, and
// persists the change before returning.
func (m *Manager) transition(ctx context.Context, agent *Agent, to State, lastError string) error {
	if !canTransition(agent.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, agent.State, to)
	}
	from := agent.State
	if err := m.store.UpdateAgentState(ctx, agent.ID, string(to), lastError); err != nil {
		return err
	}
	agent.State = to
	agent.LastError = lastError
	m.appendEvent(ctx, agent.ID, fmt.Sprintf("%s -> %s", from, to))
	return nil
}

func (m *Manager) appendEvent(ctx context.Context, agentID, detail string) {
	if err := m.store.AppendEvent(ctx, store.EventTransition, agentID, detail, trace.FromContext(ctx)); err != nil {
		m.logger.Warn("failed to record event", "agent", agentID, "error", err)
	}
}

// buildSpec translates an agent record into a container spec.
func (m *Manager) buildSpec(agent *Agent) runtime.Spec {
	env := make(map[string]string, len(agent.Config.Env)+2)
	for k, v := range agent.Config.Env {
		env[k] = v
	}
	env["CLAWPEN_PROVIDER"] = agent.Config.Provider
	env["CLAWPEN_MODEL"] = agent.Config.Model

	mounts := make([]runtime.Mount, 0, len(agent.Config.Mounts))
	for _, mnt := range agent.Config.Mounts {
		mounts = append(mounts, runtime.Mount{Source: mnt.Source, Target: mnt.Target, ReadOnly: mnt.ReadOnly})
	}

	return runtime.Spec{
		AgentID:     agent.ID,
		Name:        runtime.ContainerNameFor(agent.ID),
		Image:       agent.Config.Image,
		Env:         env,
		Mounts:      mounts,
		Ports:       agent.Config.Ports,
		MemoryMB:    agent.Config.MemoryMB,
		CPUCores:    agent.Config.CPUCores,
		MeshNetwork: agent.Config.MeshNetwork,
	}
}

// --- persistence mapping ---

func encodeAgent(a *Agent) (*store.Agent, error) {
	data, err := json.Marshal(a.Config)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: encode config: %w", err)
	}
	rec := &store.Agent{
		ID:     a.ID,
		Name:   a.Name,
		State:  string(a.State),
		Config: string(data),
	}
	if a.Template != "" {
		rec.Template = sql.NullString{String: a.Template, Valid: true}
	}
	if a.Handle != "" {
		rec.Handle = sql.NullString{String: a.Handle, Valid: true}
	}
	if a.LastError != "" {
		rec.LastError = sql.NullString{String: a.LastError, Valid: true}
	}
	return rec, nil
}

func decodeAgent(rec *store.Agent) (*Agent, error) {
	a := &Agent{
		ID:        rec.ID,
		Name:      rec.Name,
		Template:  rec.Template.String,
		State:     State(rec.State),
		Handle:    rec.Handle.String,
		LastError: rec.LastError.String,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(rec.Config), &a.Config); err != nil {
		return nil, fmt.Errorf("lifecycle: decode config for agent %s: %w", rec.ID, err)
	}
	return a, nil
}
