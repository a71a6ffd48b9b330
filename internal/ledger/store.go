package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"escorte/pkg/domain"
)

// ListFilter narrows paginated declaration listings. StatutLivraison filters
// on the derived delivery status; date bounds apply to DateDeclaration.
type ListFilter struct {
	StatutLivraison *StatutLivraison
	DateFrom        *time.Time
	DateTo          *time.Time
	Page            int
	PerPage         int
}

// Normalize applies pagination defaults.
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
}

// Store persists declarations and their parcel allocations. Implementations
// return pkg/platform/sentinel errors for infrastructure facts; services
// translate them into domain errors.
//
// Mutating counter methods (DecrementRemaining, RestoreRemaining) and
// CreateAllocation/DeleteAllocation must be called inside a transaction so a
// declaration is never decremented without a corresponding allocation row.
type Store interface {
	Create(ctx context.Context, d *Declaration) error
	FindByID(ctx context.Context, id int64) (*Declaration, error)
	FindByNumero(ctx context.Context, numero string) (*Declaration, error)
	// FindByIDForUpdate re-reads the declaration row with a mechanism that
	// serializes concurrent writers for that row.
	FindByIDForUpdate(ctx context.Context, id int64) (*Declaration, error)
	List(ctx context.Context, filter ListFilter) ([]*Declaration, int, error)
	DecrementRemaining(ctx context.Context, id int64, colis int, poids decimal.Decimal) error
	RestoreRemaining(ctx context.Context, id int64, colis int, poids decimal.Decimal) error
	UpdateClearance(ctx context.Context, id int64, statut domain.StatutApurement, date time.Time) error
	SoftDelete(ctx context.Context, id int64, when time.Time) error

	CreateAllocation(ctx context.Context, a *ParcelAllocation) error
	FindAllocation(ctx context.Context, id int64) (*ParcelAllocation, error)
	ListAllocationsByDeclaration(ctx context.Context, declarationID int64) ([]*ParcelAllocation, error)
	ListAllocationsByOrder(ctx context.Context, missionOrderID int64) ([]*ParcelAllocation, error)
	CountAllocations(ctx context.Context, declarationID int64) (int, error)
	DeleteAllocation(ctx context.Context, id int64, when time.Time) error
}
