package modification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"escorte/pkg/platform/sentinel"
	"escorte/pkg/platform/tx"
)

// PostgresStore persists modification requests. The single-pending rule is
// enforced by a partial unique index on (mission_order_id) WHERE status =
// 'PENDING', so concurrent submissions cannot both slip through.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

const requestColumns = `
	id, mission_order_id, requester_id, reviewer_id, status, type,
	reason, rejection_reason, created_at, reviewed_at`

func (s *PostgresStore) Create(ctx context.Context, r *Request) error {
	query := `
		INSERT INTO modification_requests (mission_order_id, requester_id, status, type, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := tx.Q(ctx, s.db).QueryRowContext(ctx, query,
		r.MissionOrderID, r.RequesterID, string(r.Status), string(r.Type), r.Reason, r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create modification request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM modification_requests WHERE id = $1`
	r, err := scanRequest(tx.Q(ctx, s.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find modification request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListByOrder(ctx context.Context, missionOrderID int64) ([]*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM modification_requests
		WHERE mission_order_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := tx.Q(ctx, s.db).QueryContext(ctx, query, missionOrderID)
	if err != nil {
		return nil, fmt.Errorf("list modification requests: %w", err)
	}
	defer rows.Close()
	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan modification request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Review(ctx context.Context, id, reviewerID int64, status Status, rejectionReason string, when time.Time) (*Request, error) {
	query := `
		UPDATE modification_requests
		SET status = $2, reviewer_id = $3, rejection_reason = NULLIF($4, ''), reviewed_at = $5
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + requestColumns
	r, err := scanRequest(tx.Q(ctx, s.db).QueryRowContext(ctx, query,
		id, string(status), reviewerID, rejectionReason, when,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish a missing row from one already decided.
			if _, findErr := s.FindByID(ctx, id); findErr != nil {
				return nil, findErr
			}
			return nil, sentinel.ErrInvalidState
		}
		return nil, fmt.Errorf("review modification request: %w", err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		r          Request
		status     string
		reqType    string
		rejection  sql.NullString
		reviewedAt sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.MissionOrderID, &r.RequesterID, &r.ReviewerID, &status, &reqType,
		&r.Reason, &rejection, &r.CreatedAt, &reviewedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.Type = RequestType(reqType)
	r.RejectionReason = rejection.String
	if reviewedAt.Valid {
		r.ReviewedAt = &reviewedAt.Time
	}
	return &r, nil
}
