package mission

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"escorte/pkg/domain"
	"escorte/pkg/platform/sentinel"
)

type OrderStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemoryStore
}

func TestOrderStoreSuite(t *testing.T) {
	suite.Run(t, new(OrderStoreSuite))
}

func (s *OrderStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
}

func (s *OrderStoreSuite) newOrder(number string, date time.Time) *MissionOrder {
	o := &MissionOrder{
		Number:      number,
		Destination: "Bamako",
		DateOrdre:   date,
		Statut:      StatutEnCours,
		Apurement:   domain.ApurementNonApure,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	s.Require().NoError(s.store.CreateOrder(s.ctx, o))
	return o
}

func (s *OrderStoreSuite) TestCreateAndFind() {
	o := s.newOrder("OM-2026-00001", time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC))
	s.NotZero(o.ID)

	byID, err := s.store.FindOrderByID(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Equal("OM-2026-00001", byID.Number)

	byNumber, err := s.store.FindOrderByNumber(s.ctx, "om-2026-00001")
	s.Require().NoError(err)
	s.Equal(o.ID, byNumber.ID)

	_, err = s.store.FindOrderByID(s.ctx, 999)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *OrderStoreSuite) TestNumberUniqueness() {
	s.newOrder("OM-2026-00001", time.Now())
	err := s.store.CreateOrder(s.ctx, &MissionOrder{Number: "om-2026-00001", Destination: "Bamako", DateOrdre: time.Now()})
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *OrderStoreSuite) TestListFiltersAndPaginates() {
	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	first := s.newOrder("OM-2026-00001", day(1))
	second := s.newOrder("OM-2026-00002", day(2))
	third := s.newOrder("OM-2026-00003", day(3))
	_, err := s.store.UpdateStatut(s.ctx, second.ID, StatutTraite)
	s.Require().NoError(err)

	statut := StatutTraite
	got, total, err := s.store.ListOrders(s.ctx, ListFilter{Statut: &statut})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Require().Len(got, 1)
	s.Equal(second.ID, got[0].ID)

	from := day(2)
	got, total, err = s.store.ListOrders(s.ctx, ListFilter{DateFrom: &from})
	s.Require().NoError(err)
	s.Equal(2, total)
	// Newest date first.
	s.Equal(third.ID, got[0].ID)

	got, total, err = s.store.ListOrders(s.ctx, ListFilter{Page: 2, PerPage: 2})
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Require().Len(got, 1)
	s.Equal(first.ID, got[0].ID)
}

func (s *OrderStoreSuite) TestUpdateApurementStampsDate() {
	o := s.newOrder("OM-2026-00001", time.Now())
	when := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	updated, err := s.store.UpdateApurement(s.ctx, o.ID, domain.ApurementApure, when)
	s.Require().NoError(err)
	s.Equal(domain.ApurementApure, updated.Apurement)
	s.Require().NotNil(updated.DateApurement)
	s.True(when.Equal(*updated.DateApurement))
}

func (s *OrderStoreSuite) TestSoftDeleteHidesOrderButKeepsNumberCounted() {
	o := s.newOrder("OM-2026-00001", time.Now())
	s.Require().NoError(s.store.SoftDeleteOrder(s.ctx, o.ID, time.Now()))

	_, err := s.store.FindOrderByID(s.ctx, o.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.SoftDeleteOrder(s.ctx, o.ID, time.Now()), sentinel.ErrNotFound)

	// Deleted rows still count toward numbering so numbers are never reissued.
	n, err := s.store.CountByNumberPrefix(s.ctx, "OM-2026-")
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *OrderStoreSuite) TestOwnedCollections() {
	o := s.newOrder("OM-2026-00001", time.Now())
	s.Require().NoError(s.store.CreateCargoLines(s.ctx, []*CargoLine{
		{MissionOrderID: o.ID, Nature: "Riz", Nombre: 10, Poids: decimal.NewFromInt(500)},
		{MissionOrderID: o.ID, Nature: "Sucre", Nombre: 5, Poids: decimal.NewFromInt(250)},
	}))
	s.Require().NoError(s.store.CreateTransportUnits(s.ctx, []*TransportUnit{
		{MissionOrderID: o.ID, Kind: KindTruck, Identifier: "DK-4521-AB"},
	}))

	lines, err := s.store.ListCargoLines(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().Len(lines, 2)
	s.Equal("Riz", lines[0].Nature)

	units, err := s.store.ListTransportUnits(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().Len(units, 1)
	s.Equal(KindTruck, units[0].Kind)

	err = s.store.CreateCargoLines(s.ctx, []*CargoLine{{MissionOrderID: 999, Nature: "X", Nombre: 1, Poids: decimal.NewFromInt(1)}})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *OrderStoreSuite) TestSnapshotRestore() {
	o := s.newOrder("OM-2026-00001", time.Now())
	snap := s.store.Snapshot()

	s.newOrder("OM-2026-00002", time.Now())
	_, err := s.store.UpdateStatut(s.ctx, o.ID, StatutAnnule)
	s.Require().NoError(err)

	s.store.Restore(snap)

	restored, err := s.store.FindOrderByID(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(StatutEnCours, restored.Statut)
	_, err = s.store.FindOrderByNumber(s.ctx, "OM-2026-00002")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
