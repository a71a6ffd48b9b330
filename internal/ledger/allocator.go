package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"escorte/internal/platform/metrics"
	dErrors "escorte/pkg/domain-errors"
	"escorte/pkg/platform/sentinel"
	"escorte/pkg/requestcontext"
)

// Allocator guards the allocation invariant: the sum of all non-deleted
// parcel allocations for a declaration never exceeds its declared totals.
//
// Every method requires an enclosing transaction (stores reject calls made
// outside one). Concurrent allocators against the same declaration are
// serialized by the locked re-read, so two submissions racing for the last
// remaining quantity resolve to one success and one shortfall error rather
// than a negative counter. An in-process mutex would not survive multiple
// service instances; the database row lock does.
type Allocator struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewAllocator(store Store, opts ...AllocatorOption) *Allocator {
	a := &Allocator{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type AllocatorOption func(a *Allocator)

func AllocatorWithLogger(logger *slog.Logger) AllocatorOption {
	return func(a *Allocator) {
		a.logger = logger
	}
}

func AllocatorWithMetrics(m *metrics.Metrics) AllocatorOption {
	return func(a *Allocator) {
		a.metrics = m
	}
}

// Allocate consumes part of a declaration's remaining quantity for one
// mission order: lock the row, verify the request fits, insert the
// allocation, decrement the counters. Caller owns the transaction; on error
// the whole enclosing transaction must be rolled back.
func (a *Allocator) Allocate(ctx context.Context, missionOrderID, declarationID int64, colis int, poids decimal.Decimal) (*ParcelAllocation, error) {
	if colis <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "nbreColisParcelle must be positive")
	}
	if poids.IsNegative() {
		return nil, dErrors.New(dErrors.CodeValidation, "poidsParcelle cannot be negative")
	}

	d, err := a.store.FindByIDForUpdate(ctx, declarationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "declaration %d not found", declarationID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock declaration")
	}

	if colis > d.NbreColisRestant {
		a.metrics.IncrementAllocationsRejected()
		return nil, a.shortfall(d, "nbre_colis",
			decimal.NewFromInt(int64(colis)), decimal.NewFromInt(int64(d.NbreColisRestant)))
	}
	if poids.GreaterThan(d.PoidsRestant) {
		a.metrics.IncrementAllocationsRejected()
		return nil, a.shortfall(d, "poids", poids, d.PoidsRestant)
	}

	alloc := &ParcelAllocation{
		MissionOrderID:    missionOrderID,
		DeclarationID:     declarationID,
		NbreColisParcelle: colis,
		PoidsParcelle:     poids,
		CreatedAt:         requestcontext.Now(ctx),
	}
	if err := a.store.CreateAllocation(ctx, alloc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to insert allocation")
	}
	if err := a.store.DecrementRemaining(ctx, declarationID, colis, poids); err != nil {
		if errors.Is(err, sentinel.ErrInsufficient) {
			// The locked read already verified the bound; this only trips if
			// the store was called without the lock.
			return nil, a.shortfall(d, "nbre_colis",
				decimal.NewFromInt(int64(colis)), decimal.NewFromInt(int64(d.NbreColisRestant)))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decrement remaining")
	}
	return alloc, nil
}

// Reverse deletes an allocation and restores the declaration's remaining
// counters in the same transaction. This is the only path that increments
// the counters.
func (a *Allocator) Reverse(ctx context.Context, allocationID int64) (*ParcelAllocation, error) {
	alloc, err := a.store.FindAllocation(ctx, allocationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "allocation %d not found", allocationID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load allocation")
	}
	if _, err := a.store.FindByIDForUpdate(ctx, alloc.DeclarationID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "declaration %d not found", alloc.DeclarationID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock declaration")
	}
	if err := a.store.DeleteAllocation(ctx, allocationID, requestcontext.Now(ctx)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete allocation")
	}
	if err := a.store.RestoreRemaining(ctx, alloc.DeclarationID, alloc.NbreColisParcelle, alloc.PoidsParcelle); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.Newf(dErrors.CodeInvariantViolation,
				"restoring allocation %d would exceed declared totals", allocationID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to restore remaining")
	}
	a.metrics.IncrementAllocationsReversed()
	a.logger.InfoContext(ctx, "allocation reversed",
		"allocation_id", allocationID,
		"declaration_id", alloc.DeclarationID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return alloc, nil
}

func (a *Allocator) shortfall(d *Declaration, field string, requested, remaining decimal.Decimal) error {
	err := InsufficientRemainingError{
		NumeroDeclaration: d.NumeroDeclaration,
		Field:             field,
		Requested:         requested,
		Remaining:         remaining,
	}
	return dErrors.Wrap(err, dErrors.CodeInsufficientRemaining, err.Error())
}
