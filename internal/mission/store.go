package mission

import (
	"context"
	"time"

	"escorte/pkg/domain"
)

// Store is the persistence port for mission orders and their owned
// collections. Implementations return sentinel errors from
// pkg/platform/sentinel; the service maps them to domain errors.
type Store interface {
	CreateOrder(ctx context.Context, o *MissionOrder) error
	FindOrderByID(ctx context.Context, id int64) (*MissionOrder, error)
	FindOrderByNumber(ctx context.Context, number string) (*MissionOrder, error)
	ListOrders(ctx context.Context, f ListFilter) ([]*MissionOrder, int, error)
	UpdateOrder(ctx context.Context, id int64, in UpdateOrderInput) (*MissionOrder, error)
	UpdateStatut(ctx context.Context, id int64, statut Statut) (*MissionOrder, error)
	UpdateApurement(ctx context.Context, id int64, apurement domain.StatutApurement, when time.Time) (*MissionOrder, error)
	SoftDeleteOrder(ctx context.Context, id int64, when time.Time) error

	CreateCargoLines(ctx context.Context, lines []*CargoLine) error
	ListCargoLines(ctx context.Context, orderID int64) ([]*CargoLine, error)
	CreateTransportUnits(ctx context.Context, units []*TransportUnit) error
	ListTransportUnits(ctx context.Context, orderID int64) ([]*TransportUnit, error)

	// CountByNumberPrefix counts every order ever issued under a number
	// prefix, soft-deleted rows included, so sequences never reuse a slot.
	CountByNumberPrefix(ctx context.Context, prefix string) (int, error)
}
