package runtime

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors shared by all backends.
var (
	// ErrInvalidSpec is returned by Create when a spec fails the final
	// guards. The lifecycle manager should have validated first; this is
	// the backend's own line of defense.
	ErrInvalidSpec = errors.New("runtime: invalid container spec")

	// ErrNotFound is returned when the engine has no container for the
	// handle. Remove callers treat it as success (already gone is the
	// desired end state).
	ErrNotFound = errors.New("runtime: container not found")
)

// Runtime abstracts the container engine. Implementations exist per
// backend variant (daemon-socket engine today, native sandbox later); the
// lifecycle manager holds exactly one and is oblivious to which.
//
// Regardless of backend, implementations must run containers unprivileged,
// drop all capabilities except a minimal allow-list, bind published ports
// to loopback unless Spec.MeshNetwork is set, and attach containers to an
// isolated per-deployment network shared only among agent containers.
type Runtime interface {
	// Create creates (but does not start) a container from the spec and
	// returns its handle. Fails with ErrInvalidSpec when the spec does not
	// pass VerifySpec.
	Create(ctx context.Context, spec Spec) (Handle, error)

	// Start starts a created or stopped container.
	Start(ctx context.Context, handle Handle) error

	// Stop gracefully stops the container, escalating after grace.
	// Stopping an already-stopped container succeeds.
	Stop(ctx context.Context, handle Handle, grace time.Duration) error

	// Remove deletes the container. Returns ErrNotFound when the handle is
	// already gone.
	Remove(ctx context.Context, handle Handle) error

	// Status reports the live engine state for the handle. A missing
	// container reports StateGone rather than an error.
	Status(ctx context.Context, handle Handle) (Status, error)

	// List returns all containers managed by this deployment, mapped back
	// to their agent IDs via labels.
	List(ctx context.Context) ([]Container, error)

	// Logs opens a fresh log cursor over the container output. The stream
	// applies backpressure by suspending production until the consumer
	// reads; it terminates (does not hang) when the container disappears.
	Logs(ctx context.Context, handle Handle, opts LogOptions) (io.ReadCloser, error)

	// Attach opens a duplex byte stream to the container's stdio for
	// interactive chat.
	Attach(ctx context.Context, handle Handle) (io.ReadWriteCloser, error)
}
