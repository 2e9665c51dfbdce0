// Package repository provides data access for the connection audit log.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agentstream/realtime/internal/model"
)

// EventRepository persists and queries connection lifecycle events.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// RecordEvent inserts a connection event.
func (r *EventRepository) RecordEvent(ctx context.Context, event *model.ConnectionEvent) error {
	query := `
		INSERT INTO connection_events (session_id, client_id, event_type, remote_addr, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.SessionID,
		event.ClientID,
		event.Type,
		event.RemoteAddr,
		event.Detail,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}

	return nil
}

// GetByID retrieves a single event. Returns model.ErrEventNotFound when no
// row exists.
func (r *EventRepository) GetByID(ctx context.Context, id int64) (*model.ConnectionEvent, error) {
	query := `
		SELECT id, session_id, client_id, event_type, remote_addr, detail, created_at
		FROM connection_events
		WHERE id = ?
	`

	event := &model.ConnectionEvent{}
	var remoteAddr sql.NullString
	var detail sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&event.ID,
		&event.SessionID,
		&event.ClientID,
		&event.Type,
		&remoteAddr,
		&detail,
		&event.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	if remoteAddr.Valid {
		event.RemoteAddr = remoteAddr.String
	}
	if detail.Valid {
		event.Detail = detail.String
	}

	return event, nil
}

// ListBySession retrieves all events for a session, oldest first.
func (r *EventRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.ConnectionEvent, error) {
	query := `
		SELECT id, session_id, client_id, event_type, remote_addr, detail, created_at
		FROM connection_events
		WHERE session_id = ?
		ORDER BY id ASC
	`
	return r.list(ctx, query, sessionID)
}

// ListByClient retrieves all events for a client identifier, oldest first.
func (r *EventRepository) ListByClient(ctx context.Context, clientID string) ([]*model.ConnectionEvent, error) {
	query := `
		SELECT id, session_id, client_id, event_type, remote_addr, detail, created_at
		FROM connection_events
		WHERE client_id = ?
		ORDER BY id ASC
	`
	return r.list(ctx, query, clientID)
}

func (r *EventRepository) list(ctx context.Context, query string, arg any) ([]*model.ConnectionEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*model.ConnectionEvent
	for rows.Next() {
		event := &model.ConnectionEvent{}
		var remoteAddr sql.NullString
		var detail sql.NullString

		err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.ClientID,
			&event.Type,
			&remoteAddr,
			&detail,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if remoteAddr.Valid {
			event.RemoteAddr = remoteAddr.String
		}
		if detail.Valid {
			event.Detail = detail.String
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// CountByType returns the number of events of the given type.
func (r *EventRepository) CountByType(ctx context.Context, typ model.ConnectionEventType) (int, error) {
	query := `SELECT COUNT(*) FROM connection_events WHERE event_type = ?`

	var count int
	if err := r.db.QueryRowContext(ctx, query, typ).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	return count, nil
}
