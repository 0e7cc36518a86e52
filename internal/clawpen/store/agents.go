package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for record lookups.
var (
	// ErrNotFound is returned when no record matches the query.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint, such as an agent name that is already taken.
	ErrDuplicate = errors.New("store: duplicate")
)

// Agent is the persisted record for a managed agent. Config holds the full
// agent configuration serialized as JSON; the flat columns exist for lookup
// and listing without deserializing.
type Agent struct {
	ID        string
	Name      string
	Template  sql.NullString
	State     string
	Handle    sql.NullString
	Config    string
	LastError sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateAgent inserts a new agent. Returns ErrDuplicate when the name is
// already taken (case-insensitive).
func (s *Store) CreateAgent(ctx context.Context, agent *Agent) error {
	agent.CreatedAt = time.Now()
	agent.UpdatedAt = agent.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, template, state, handle, config, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, agent.ID, agent.Name, agent.Template, agent.State, agent.Handle,
		agent.Config, agent.LastError, agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("agent name %q: %w", agent.Name, ErrDuplicate)
		}
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	return s.getAgentBy(ctx, "id = ?", id)
}

// GetAgentByName retrieves an agent by its unique name.
func (s *Store) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	return s.getAgentBy(ctx, "name = ? COLLATE NOCASE", name)
}

func (s *Store) getAgentBy(ctx context.Context, where string, arg any) (*Agent, error) {
	agent := &Agent{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, template, state, handle, config, last_error, created_at, updated_at
		FROM agents
		WHERE `+where,
		arg).Scan(
		&agent.ID, &agent.Name, &agent.Template, &agent.State, &agent.Handle,
		&agent.Config, &agent.LastError, &agent.CreatedAt, &agent.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all agents, newest first.
func (s *Store) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, template, state, handle, config, last_error, created_at, updated_at
		FROM agents
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent := &Agent{}
		err := rows.Scan(
			&agent.ID, &agent.Name, &agent.Template, &agent.State, &agent.Handle,
			&agent.Config, &agent.LastError, &agent.CreatedAt, &agent.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}

// UpdateAgentState updates an agent's state and last error. Pass an empty
// lastError to clear it.
func (s *Store) UpdateAgentState(ctx context.Context, id, state, lastError string) error {
	var errCol sql.NullString
	if lastError != "" {
		errCol = sql.NullString{String: lastError, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET state = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, state, errCol, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update agent state: %w", err)
	}
	return oneRow(result, id)
}

// UpdateAgentHandle stores the container handle for an agent. Pass an empty
// handle to clear it.
func (s *Store) UpdateAgentHandle(ctx context.Context, id, handle string) error {
	var handleCol sql.NullString
	if handle != "" {
		handleCol = sql.NullString{String: handle, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET handle = ?, updated_at = ?
		WHERE id = ?
	`, handleCol, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update agent handle: %w", err)
	}
	return oneRow(result, id)
}

// RenameAgent changes an agent's unique name. Returns ErrDuplicate when the
// name is already taken (case-insensitive) and ErrNotFound for an unknown id.
func (s *Store) RenameAgent(ctx context.Context, id, name string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET name = ?, updated_at = ?
		WHERE id = ?
	`, name, time.Now(), id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("agent name %q: %w", name, ErrDuplicate)
		}
		return fmt.Errorf("failed to rename agent: %w", err)
	}
	return oneRow(result, id)
}

// UpdateAgentConfig replaces the serialized agent configuration.
func (s *Store) UpdateAgentConfig(ctx context.Context, id, config string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET config = ?, updated_at = ?
		WHERE id = ?
	`, config, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update agent config: %w", err)
	}
	return oneRow(result, id)
}

// DeleteAgent removes an agent record.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return oneRow(result, id)
}

// AgentCount returns the number of agent records.
func (s *Store) AgentCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agents").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count agents: %w", err)
	}
	return count, nil
}

func oneRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
