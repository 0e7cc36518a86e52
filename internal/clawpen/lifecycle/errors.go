package lifecycle

import (
	"errors"
	"fmt"

	"github.com/clawpen/clawpen/internal/clawpen/sanitize"
)

// Sentinel errors returned by lifecycle operations.
var (
	// ErrNotFound is returned when no agent matches the given id or name.
	ErrNotFound = errors.New("lifecycle: agent not found")

	// ErrDuplicateName is returned by Create and Rename when the name is
	// already taken.
	ErrDuplicateName = errors.New("lifecycle: agent name already exists")

	// ErrInvalidState is returned when an operation is not allowed in the
	// agent's current state, such as deleting a running agent.
	ErrInvalidState = errors.New("lifecycle: operation not allowed in current state")

	// ErrInvalidTransition is returned when a requested state edge is not in
	// the transition table.
	ErrInvalidTransition = errors.New("lifecycle: invalid state transition")
)

// BackendError wraps a container-engine failure. The message is sanitized
// before construction so it can cross the process boundary; the raw cause is
// deliberately not retained.
type BackendError struct {
	// Op is the backend operation that failed ("create", "start", ...).
	Op string

	// Message is the sanitized engine error text.
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s failed: %s", e.Op, e.Message)
}

// newBackendError sanitizes err into a BackendError.
func newBackendError(op string, err error) *BackendError {
	return &BackendError{Op: op, Message: sanitize.Error(err.Error())}
}
