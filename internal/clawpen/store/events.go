package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event kinds recorded in the append-only event log.
const (
	EventTransition = "transition"
	EventRouting    = "routing"
)

// Event is an append-only record of something the control plane did:
// a lifecycle transition or a routing decision.
type Event struct {
	ID        int64
	Kind      string
	AgentID   sql.NullString
	Detail    string
	TraceID   sql.NullString
	CreatedAt time.Time
}

// AppendEvent records an event. agentID and traceID may be empty.
func (s *Store) AppendEvent(ctx context.Context, kind, agentID, detail, traceID string) error {
	var agentCol, traceCol sql.NullString
	if agentID != "" {
		agentCol = sql.NullString{String: agentID, Valid: true}
	}
	if traceID != "" {
		traceCol = sql.NullString{String: traceID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (kind, agent_id, detail, trace_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, kind, agentCol, detail, traceCol, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events, newest first, up to limit.
// Pass an empty agentID to list across all agents.
func (s *Store) ListEvents(ctx context.Context, agentID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, kind, agent_id, detail, trace_id, created_at
		FROM events
	`
	args := []any{}
	if agentID != "" {
		query += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.Kind, &e.AgentID, &e.Detail, &e.TraceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
