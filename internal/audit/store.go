package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"escorte/pkg/platform/tx"
)

// PostgresStore persists the trail in the audit_events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_events (occurred_at, actor_id, action, subject, subject_id, detail, client_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''))
	`
	_, err := tx.Q(ctx, s.db).ExecContext(ctx, query,
		event.OccurredAt, event.ActorID, event.Action, event.Subject, event.SubjectID,
		event.Detail, event.ClientIP, event.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject string, subjectID int64) ([]Event, error) {
	query := `
		SELECT id, occurred_at, actor_id, action, subject, subject_id,
			COALESCE(detail, ''), COALESCE(client_ip, ''), COALESCE(user_agent, '')
		FROM audit_events
		WHERE subject = $1 AND subject_id = $2
		ORDER BY occurred_at DESC, id DESC
	`
	rows, err := tx.Q(ctx, s.db).QueryContext(ctx, query, subject, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.ActorID, &e.Action, &e.Subject, &e.SubjectID,
			&e.Detail, &e.ClientIP, &e.UserAgent); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InMemoryStore keeps the trail in a slice for tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	events []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	event.ID = s.nextID
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subject string, subjectID int64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.Subject == subject && e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	return out, nil
}
