package mission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"escorte/internal/ledger"
	"escorte/internal/platform/metrics"
	"escorte/pkg/domain"
	dErrors "escorte/pkg/domain-errors"
	"escorte/pkg/platform/sentinel"
	"escorte/pkg/platform/tx"
	"escorte/pkg/requestcontext"
)

// maxNumberAttempts bounds the retry loop when two concurrent creates draw
// the same order number.
const maxNumberAttempts = 3

// DeclarationLedger is what the order workflow needs from the declaration
// side: resolve references, create inline declarations, read allocations.
type DeclarationLedger interface {
	Create(ctx context.Context, in ledger.CreateDeclarationInput) (*ledger.Declaration, error)
	Find(ctx context.Context, numero string) (*ledger.Declaration, error)
	AllocationsByOrder(ctx context.Context, missionOrderID int64) ([]*ledger.ParcelAllocation, error)
}

// ParcelAllocator applies and reverses allocations inside the caller's
// transaction.
type ParcelAllocator interface {
	Allocate(ctx context.Context, missionOrderID, declarationID int64, colis int, poids decimal.Decimal) (*ledger.ParcelAllocation, error)
	Reverse(ctx context.Context, allocationID int64) (*ledger.ParcelAllocation, error)
}

// ChiefProvider resolves the office chiefs snapshotted onto every new order.
type ChiefProvider interface {
	Chiefs(ctx context.Context) (bureau, section int64, err error)
}

// Auditor records who did what to which order. Implementations are
// fire-and-forget; a full audit queue must never fail a business operation.
type Auditor interface {
	Record(ctx context.Context, action, subject string, subjectID int64, detail string)
}

// Service orchestrates the mission-order lifecycle.
type Service struct {
	store       Store
	runner      tx.Runner
	ledger      DeclarationLedger
	allocator   ParcelAllocator
	chiefs      ChiefProvider
	auditor     Auditor
	transitions TransitionTable
	numbers     *numberGenerator
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
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

func WithAuditor(a Auditor) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

func WithTransitions(t TransitionTable) Option {
	return func(s *Service) {
		s.transitions = t
	}
}

// WithNumberPrefix overrides the order number prefix (default "OM").
func WithNumberPrefix(prefix string) Option {
	return func(s *Service) {
		s.numbers.prefix = prefix
	}
}

// New constructs a Service.
func New(store Store, runner tx.Runner, declarations DeclarationLedger, allocator ParcelAllocator, chiefs ChiefProvider, opts ...Option) *Service {
	s := &Service{
		store:       store,
		runner:      runner,
		ledger:      declarations,
		allocator:   allocator,
		chiefs:      chiefs,
		transitions: DefaultTransitions(),
		numbers:     &numberGenerator{prefix: "OM", store: store},
		logger:      slog.Default(),
		tracer:      otel.Tracer("escorte/mission"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a mission order together with its declarations,
// allocations, cargo lines and transport units in one transaction. Any
// failure, a missing declaration reference included, rolls the whole graph
// back and leaves every remaining counter untouched.
func (s *Service) Create(ctx context.Context, in CreateOrderInput) (*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "mission.Create")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	bureau, section, err := s.chiefs.Chiefs(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve office chiefs")
	}

	started := time.Now()
	var order *MissionOrder
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		order, err = s.createOnce(ctx, in, bureau, section, attempt)
		if err == nil {
			break
		}
		// Only regenerated numbers are worth retrying; a caller-chosen
		// number colliding is the caller's conflict.
		if in.Number == "" && errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		break
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			if in.Number != "" {
				return nil, dErrors.Newf(dErrors.CodeConflict, "mission order %s already exists", in.Number)
			}
			return nil, dErrors.New(dErrors.CodeConflict, "could not issue a unique order number")
		}
		return nil, err
	}

	s.metrics.IncrementOrdersCreated()
	s.metrics.IncrementAllocationsApplied(len(in.Declarations))
	s.metrics.ObserveCreateOrderDuration(time.Since(started).Seconds())
	span.SetAttributes(attribute.String("order.number", order.Number))
	if s.auditor != nil {
		s.auditor.Record(ctx, "mission_order.create", "mission_order", order.ID, order.Number)
	}
	s.logger.InfoContext(ctx, "mission order created",
		"number", order.Number,
		"declarations", len(in.Declarations),
		"agent_id", requestcontext.AgentID(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
	return s.Get(ctx, order.ID)
}

// createOnce runs one full creation transaction. It returns raw sentinel
// errors for number conflicts so the caller can decide whether to retry.
func (s *Service) createOnce(ctx context.Context, in CreateOrderInput, bureau, section int64, attempt int) (*MissionOrder, error) {
	var order *MissionOrder
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		number := in.Number
		if number == "" {
			var err error
			number, err = s.numbers.next(txCtx, attempt)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate order number")
			}
		}

		now := requestcontext.Now(txCtx)
		order = &MissionOrder{
			Number:          number,
			Destination:     in.Destination,
			Itineraire:      in.Itineraire,
			DateOrdre:       in.DateOrdre,
			Observations:    in.Observations,
			Statut:          StatutEnCours,
			Apurement:       domain.ApurementNonApure,
			DepositaireID:   in.DepositaireID,
			MaisonTransitID: in.MaisonTransitID,
			BureauSortieID:  in.BureauSortieID,
			AgentID:         in.AgentID,
			EscouadeID:      in.EscouadeID,
			ChefBureauID:    bureau,
			ChefSectionID:   section,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.store.CreateOrder(txCtx, order); err != nil {
			return err
		}

		declarations, err := s.resolveDeclarations(txCtx, order.ID, in.Declarations)
		if err != nil {
			return err
		}
		if err := s.attachCargoLines(txCtx, order.ID, in.CargoLines, declarations); err != nil {
			return err
		}
		return s.attachTransportUnits(txCtx, order.ID, in)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// resolveDeclarations turns each reference into a concrete declaration (by
// lookup or inline creation) and allocates its parcel to the order. Returns
// the numero -> id mapping used to attribute cargo lines.
func (s *Service) resolveDeclarations(ctx context.Context, orderID int64, refs []DeclarationRef) (map[string]int64, error) {
	resolved := make(map[string]int64, len(refs))
	for _, ref := range refs {
		var d *ledger.Declaration
		var err error
		if ref.Declaration != nil {
			d, err = s.ledger.Create(ctx, *ref.Declaration)
		} else {
			d, err = s.ledger.Find(ctx, ref.NumeroDeclaration)
		}
		if err != nil {
			return nil, err
		}
		resolved[d.NumeroDeclaration] = d.ID
		if _, err := s.allocator.Allocate(ctx, orderID, d.ID, ref.NbreColisParcelle, ref.PoidsParcelle); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func (s *Service) attachCargoLines(ctx context.Context, orderID int64, inputs []CargoLineInput, declarations map[string]int64) error {
	if len(inputs) == 0 {
		return nil
	}
	lines := make([]*CargoLine, 0, len(inputs))
	for _, in := range inputs {
		line := &CargoLine{
			MissionOrderID:    orderID,
			Nature:            in.Nature,
			PositionTarifaire: in.PositionTarifaire,
			Nombre:            in.Nombre,
			Poids:             in.Poids,
			Valeur:            in.Valeur,
		}
		if in.NumeroDeclaration != "" {
			id, ok := declarations[in.NumeroDeclaration]
			if !ok {
				return dErrors.Newf(dErrors.CodeValidation,
					"colis references declaration %s which is not part of this order", in.NumeroDeclaration)
			}
			line.DeclarationID = &id
		}
		lines = append(lines, line)
	}
	if err := s.store.CreateCargoLines(ctx, lines); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create cargo lines")
	}
	return nil
}

func (s *Service) attachTransportUnits(ctx context.Context, orderID int64, in CreateOrderInput) error {
	var units []*TransportUnit
	add := func(kind TransportKind, identifiers []string) {
		for _, id := range identifiers {
			if id == "" {
				continue
			}
			units = append(units, &TransportUnit{MissionOrderID: orderID, Kind: kind, Identifier: id})
		}
	}
	add(KindContainer, in.Containers)
	add(KindTruck, in.Trucks)
	add(KindCar, in.Cars)
	if len(units) == 0 {
		return nil
	}
	if err := s.store.CreateTransportUnits(ctx, units); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create transport units")
	}
	return nil
}

// Get assembles an order with its cargo lines, transport units and
// allocations.
func (s *Service) Get(ctx context.Context, id int64) (*OrderView, error) {
	order, err := s.store.FindOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "mission order %d not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load mission order")
	}
	return s.assemble(ctx, order)
}

// GetByNumber assembles an order looked up by its business number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*OrderView, error) {
	order, err := s.store.FindOrderByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "mission order %s not found", number)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load mission order")
	}
	return s.assemble(ctx, order)
}

// List returns a page of orders without their owned collections.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*MissionOrder, int, error) {
	orders, total, err := s.store.ListOrders(ctx, f)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list mission orders")
	}
	return orders, total, nil
}

// Update edits the order's plain fields. Statuses are excluded; they move
// only through ChangeStatut and UpdateStatutApurement.
func (s *Service) Update(ctx context.Context, id int64, in UpdateOrderInput) (*OrderView, error) {
	order, err := s.store.UpdateOrder(ctx, id, in)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "mission order %d not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update mission order")
	}
	if s.auditor != nil {
		s.auditor.Record(ctx, "mission_order.update", "mission_order", order.ID, order.Number)
	}
	return s.assemble(ctx, order)
}

// ChangeStatut moves the order through the processing state machine. The
// transition table rejects moves out of terminal statuses.
func (s *Service) ChangeStatut(ctx context.Context, id int64, to Statut) (*OrderView, error) {
	if !validStatuts[to] {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unsupported statut: %s", to)
	}
	order, err := s.store.FindOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "mission order %d not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load mission order")
	}
	if order.Statut == to {
		return s.assemble(ctx, order)
	}
	if !s.transitions.Allowed(order.Statut, to) {
		return nil, dErrors.Newf(dErrors.CodeInvalidState,
			"statut transition %s -> %s is not allowed", order.Statut, to)
	}
	updated, err := s.store.UpdateStatut(ctx, id, to)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update statut")
	}
	if s.auditor != nil {
		s.auditor.Record(ctx, "mission_order.statut", "mission_order", id, string(to))
	}
	s.logger.InfoContext(ctx, "mission order statut changed",
		"number", updated.Number,
		"from", order.Statut,
		"to", to,
		"agent_id", requestcontext.AgentID(ctx),
	)
	return s.assemble(ctx, updated)
}

// UpdateStatutApurement sets the customs-clearance status of the order. A
// terminal clearance (APURE, REJET) is final.
func (s *Service) UpdateStatutApurement(ctx context.Context, id int64, statut string) (*OrderView, error) {
	parsed, err := domain.ParseStatutApurement(statut)
	if err != nil {
		return nil, err
	}
	order, err := s.store.FindOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "mission order %d not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load mission order")
	}
	if order.Apurement.IsTerminal() && parsed != order.Apurement {
		return nil, dErrors.Newf(dErrors.CodeInvalidState,
			"statut apurement %s is terminal", order.Apurement)
	}
	updated, err := s.store.UpdateApurement(ctx, id, parsed, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update statut apurement")
	}
	if s.auditor != nil {
		s.auditor.Record(ctx, "mission_order.apurement", "mission_order", id, string(parsed))
	}
	return s.assemble(ctx, updated)
}

// Remove soft-deletes the order. Allocations stay in place and the
// declaration counters are NOT restored: the quantities physically left
// under escort, so deleting the paperwork must not resurrect them. Use
// ReverseAllocation for genuine data-entry corrections.
func (s *Service) Remove(ctx context.Context, id int64) error {
	if err := s.store.SoftDeleteOrder(ctx, id, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "mission order %d not found", id)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete mission order")
	}
	if s.auditor != nil {
		s.auditor.Record(ctx, "mission_order.delete", "mission_order", id, "")
	}
	return nil
}

// ReverseAllocation undoes one allocation and restores the declaration's
// remaining counters, transactionally.
func (s *Service) ReverseAllocation(ctx context.Context, orderID, allocationID int64) error {
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		alloc, err := s.allocator.Reverse(txCtx, allocationID)
		if err != nil {
			return err
		}
		if alloc.MissionOrderID != orderID {
			return dErrors.Newf(dErrors.CodeValidation,
				"allocation %d does not belong to mission order %d", allocationID, orderID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.auditor != nil {
		s.auditor.Record(ctx, "mission_order.reverse_allocation", "mission_order", orderID, "")
	}
	return nil
}

func (s *Service) assemble(ctx context.Context, order *MissionOrder) (*OrderView, error) {
	lines, err := s.store.ListCargoLines(ctx, order.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list cargo lines")
	}
	units, err := s.store.ListTransportUnits(ctx, order.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list transport units")
	}
	allocs, err := s.ledger.AllocationsByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	view := &OrderView{
		MissionOrder: *order,
		CargoLines:   lines,
		Allocations:  allocs,
	}
	for _, u := range units {
		switch u.Kind {
		case KindContainer:
			view.Containers = append(view.Containers, u)
		case KindTruck:
			view.Trucks = append(view.Trucks, u)
		case KindCar:
			view.Cars = append(view.Cars, u)
		}
	}
	return view, nil
}
