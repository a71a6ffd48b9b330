package modification

import (
	"context"
	"time"
)

// Store is the persistence port for modification requests. Create must
// refuse a second pending request for the same order with
// sentinel.ErrConflict. Review moves a PENDING row to its decision in one
// guarded update and reports sentinel.ErrInvalidState when the row has
// already been decided.
type Store interface {
	Create(ctx context.Context, r *Request) error
	FindByID(ctx context.Context, id int64) (*Request, error)
	ListByOrder(ctx context.Context, missionOrderID int64) ([]*Request, error)
	Review(ctx context.Context, id, reviewerID int64, status Status, rejectionReason string, when time.Time) (*Request, error)
}
