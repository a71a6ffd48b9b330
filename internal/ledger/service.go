package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"escorte/internal/platform/metrics"
	"escorte/pkg/domain"
	dErrors "escorte/pkg/domain-errors"
	"escorte/pkg/platform/sentinel"
	"escorte/pkg/requestcontext"
)

// DeclarationView is a declaration with its derived delivery fields, as
// returned by all read paths.
type DeclarationView struct {
	Declaration
	DeliveryProjection
}

// Service owns declaration lifecycle and read projections.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a declaration with remaining counters equal to totals.
func (s *Service) Create(ctx context.Context, in CreateDeclarationInput) (*Declaration, error) {
	now := requestcontext.Now(ctx)
	d, err := NewDeclaration(in, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, d); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "declaration %s already exists", in.NumeroDeclaration)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create declaration")
	}
	s.metrics.IncrementDeclarationsCreated()
	s.logger.InfoContext(ctx, "declaration created",
		"numero", d.NumeroDeclaration,
		"nbre_colis_total", d.NbreColisTotal,
		"request_id", requestcontext.RequestID(ctx),
	)
	return d, nil
}

// GetByNumero returns a declaration with derived delivery fields.
func (s *Service) GetByNumero(ctx context.Context, numero string) (*DeclarationView, error) {
	d, err := s.store.FindByNumero(ctx, numero)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "declaration %s not found", numero)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load declaration")
	}
	return s.view(ctx, d)
}

// GetByID returns a declaration with derived delivery fields.
func (s *Service) GetByID(ctx context.Context, id int64) (*DeclarationView, error) {
	d, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "declaration %d not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load declaration")
	}
	return s.view(ctx, d)
}

// List returns a page of declarations with derived delivery fields and the
// total match count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*DeclarationView, int, error) {
	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list declarations")
	}
	views := make([]*DeclarationView, 0, len(items))
	for _, d := range items {
		v, err := s.view(ctx, d)
		if err != nil {
			return nil, 0, err
		}
		views = append(views, v)
	}
	return views, total, nil
}

// UpdateClearance marks a declaration's customs-clearance status. Invoked by
// the clearance workflow collaborator.
func (s *Service) UpdateClearance(ctx context.Context, id int64, statut string, date time.Time) (*DeclarationView, error) {
	parsed, err := domain.ParseStatutApurement(statut)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateClearance(ctx, id, parsed, date); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "declaration %d not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update clearance")
	}
	return s.GetByID(ctx, id)
}

// SoftDelete tombstones a declaration. Allocation history is retained.
func (s *Service) SoftDelete(ctx context.Context, id int64) error {
	if err := s.store.SoftDelete(ctx, id, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "declaration %d not found", id)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete declaration")
	}
	return nil
}

// Find returns the raw declaration row without computing the delivery
// projection. Used by collaborators already inside a transaction, where the
// extra allocation count is wasted work.
func (s *Service) Find(ctx context.Context, numero string) (*Declaration, error) {
	d, err := s.store.FindByNumero(ctx, numero)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "declaration %s not found", numero)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load declaration")
	}
	return d, nil
}

// AllocationsByOrder lists the live allocations funding a mission order.
func (s *Service) AllocationsByOrder(ctx context.Context, missionOrderID int64) ([]*ParcelAllocation, error) {
	allocs, err := s.store.ListAllocationsByOrder(ctx, missionOrderID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list allocations")
	}
	return allocs, nil
}

func (s *Service) view(ctx context.Context, d *Declaration) (*DeclarationView, error) {
	count, err := s.store.CountAllocations(ctx, d.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count allocations")
	}
	return &DeclarationView{Declaration: *d, DeliveryProjection: Project(d, count)}, nil
}
