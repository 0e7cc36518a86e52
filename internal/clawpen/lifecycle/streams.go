package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/clawpen/clawpen/internal/clawpen/runtime"
)

// streamRegistry tracks the cancel functions of long-lived log and chat
// streams per agent, so Stop and Delete can tear them down without waiting.
type streamRegistry struct {
	mu      sync.Mutex
	nextID  int
	cancels map[string]map[int]context.CancelFunc
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{cancels: make(map[string]map[int]context.CancelFunc)}
}

func (r *streamRegistry) add(agentID string, cancel context.CancelFunc) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	if r.cancels[agentID] == nil {
		r.cancels[agentID] = make(map[int]context.CancelFunc)
	}
	r.cancels[agentID][id] = cancel
	return id
}

func (r *streamRegistry) remove(agentID string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.cancels[agentID]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(r.cancels, agentID)
		}
	}
}

func (r *streamRegistry) cancelAll(agentID string) {
	r.mu.Lock()
	cancels := r.cancels[agentID]
	delete(r.cancels, agentID)
	r.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// LogOptions controls a StreamLogs call.
type LogOptions struct {
	// FromBeginning starts at the first retained line instead of "now".
	FromBeginning bool
	// Follow keeps the stream open until cancelled.
	Follow bool
}

// StreamLogs opens a log stream for the agent's container. The stream runs
// outside the per-agent lifecycle lock; a concurrent Stop or Delete cancels
// it rather than waiting for the reader. The returned stream terminates when
// the container disappears.
func (m *Manager) StreamLogs(ctx context.Context, id string, opts LogOptions) (io.ReadCloser, error) {
	agent, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.Handle == "" {
		return nil, fmt.Errorf("%w: agent has no container", ErrInvalidState)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	rc, err := m.rt.Logs(streamCtx, runtime.Handle(agent.Handle), runtime.LogOptions{
		FromBeginning: opts.FromBeginning,
		Follow:        opts.Follow,
	})
	if err != nil {
		cancel()
		if errors.Is(err, runtime.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, newBackendError("logs", err)
	}

	token := m.streams.add(agent.ID, cancel)
	return &trackedStream{
		ReadCloser: rc,
		done: func() {
			m.streams.remove(agent.ID, token)
			cancel()
		},
	}, nil
}

// Attach opens a duplex chat stream to the agent's container. Only Running
// agents can be attached to. Like log streams, an attachment never blocks a
// lifecycle transition; Stop cancels it.
func (m *Manager) Attach(ctx context.Context, id string) (io.ReadWriteCloser, error) {
	agent, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.State != StateRunning || agent.Handle == "" {
		return nil, fmt.Errorf("%w: agent is not running", ErrInvalidState)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	rw, err := m.rt.Attach(streamCtx, runtime.Handle(agent.Handle))
	if err != nil {
		cancel()
		if errors.Is(err, runtime.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, newBackendError("attach", err)
	}

	token := m.streams.add(agent.ID, cancel)
	return &trackedDuplex{
		ReadWriteCloser: rw,
		done: func() {
			m.streams.remove(agent.ID, token)
			cancel()
		},
	}, nil
}

type trackedStream struct {
	io.ReadCloser
	once sync.Once
	done func()
}

func (s *trackedStream) Close() error {
	err := s.ReadCloser.Close()
	s.once.Do(s.done)
	return err
}

type trackedDuplex struct {
	io.ReadWriteCloser
	once sync.Once
	done func()
}

func (s *trackedDuplex) Close() error {
	err := s.ReadWriteCloser.Close()
	s.once.Do(s.done)
	return err
}
