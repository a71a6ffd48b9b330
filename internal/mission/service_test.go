package mission

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escorte/internal/ledger"
	"escorte/pkg/domain"
	dErrors "escorte/pkg/domain-errors"
	"escorte/pkg/platform/tx"
	"escorte/pkg/requestcontext"
)

type staticChiefs struct {
	bureau, section int64
}

func (c staticChiefs) Chiefs(context.Context) (int64, int64, error) {
	return c.bureau, c.section, nil
}

type fixture struct {
	svc         *Service
	store       *InMemoryStore
	ledgerStore *ledger.InMemoryStore
	ledgerSvc   *ledger.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledgerStore := ledger.NewInMemoryStore()
	missionStore := NewInMemoryStore()
	runner := tx.NewMemoryRunner(ledgerStore, missionStore)
	ledgerSvc := ledger.New(ledgerStore)
	allocator := ledger.NewAllocator(ledgerStore)
	svc := New(missionStore, runner, ledgerSvc, allocator, staticChiefs{bureau: 7, section: 9})
	return &fixture{svc: svc, store: missionStore, ledgerStore: ledgerStore, ledgerSvc: ledgerSvc}
}

func (f *fixture) seedDeclaration(t *testing.T, numero string, colis int, poids string) *ledger.Declaration {
	t.Helper()
	d, err := f.ledgerSvc.Create(context.Background(), ledger.CreateDeclarationInput{
		NumeroDeclaration: numero,
		DateDeclaration:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		NbreColisTotal:    colis,
		PoidsTotal:        decimal.RequireFromString(poids),
	})
	require.NoError(t, err)
	return d
}

func validOrderInput(refs ...DeclarationRef) CreateOrderInput {
	return CreateOrderInput{
		Destination:  "Bamako",
		Itineraire:   "Dakar - Kidira - Bamako",
		DateOrdre:    time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC),
		Declarations: refs,
		Containers:   []string{"MSKU1234567"},
		Trucks:       []string{"DK-4521-AB"},
	}
}

func TestCreateOrderWithExistingDeclaration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.seedDeclaration(t, "24P60001", 10, "100")

	view, err := f.svc.Create(ctx, validOrderInput(DeclarationRef{
		NumeroDeclaration: "24P60001",
		NbreColisParcelle: 4,
		PoidsParcelle:     decimal.NewFromInt(40),
	}))
	require.NoError(t, err)

	assert.Equal(t, StatutEnCours, view.Statut)
	assert.Equal(t, domain.ApurementNonApure, view.Apurement)
	assert.Equal(t, int64(7), view.ChefBureauID)
	assert.Equal(t, int64(9), view.ChefSectionID)
	assert.NotEmpty(t, view.Number)
	require.Len(t, view.Allocations, 1)
	assert.Equal(t, d.ID, view.Allocations[0].DeclarationID)
	require.Len(t, view.Containers, 1)
	require.Len(t, view.Trucks, 1)

	after, err := f.ledgerStore.FindByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, after.NbreColisRestant)
}

func TestCreateOrderWithInlineDeclaration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.Create(ctx, validOrderInput(DeclarationRef{
		Declaration: &ledger.CreateDeclarationInput{
			NumeroDeclaration: "24P60002",
			DateDeclaration:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			NbreColisTotal:    8,
			PoidsTotal:        decimal.NewFromInt(80),
		},
		NbreColisParcelle: 8,
		PoidsParcelle:     decimal.NewFromInt(80),
	}))
	require.NoError(t, err)
	require.Len(t, view.Allocations, 1)

	created, err := f.ledgerSvc.GetByNumero(ctx, "24P60002")
	require.NoError(t, err)
	assert.Equal(t, ledger.TotalementLivre, created.StatutLivraison)
}

func TestCreateOrderRollsBackOnMissingDeclaration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.seedDeclaration(t, "24P60003", 10, "100")

	_, err := f.svc.Create(ctx, validOrderInput(
		DeclarationRef{NumeroDeclaration: "24P60003", NbreColisParcelle: 4, PoidsParcelle: decimal.NewFromInt(40)},
		DeclarationRef{NumeroDeclaration: "24PMISSING", NbreColisParcelle: 1, PoidsParcelle: decimal.NewFromInt(1)},
	))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	// Nothing committed: no order, no allocation, counters untouched.
	_, total, listErr := f.store.ListOrders(ctx, ListFilter{})
	require.NoError(t, listErr)
	assert.Zero(t, total)

	after, findErr := f.ledgerStore.FindByID(ctx, d.ID)
	require.NoError(t, findErr)
	assert.Equal(t, 10, after.NbreColisRestant)
	count, countErr := f.ledgerStore.CountAllocations(ctx, d.ID)
	require.NoError(t, countErr)
	assert.Zero(t, count)
}

func TestCreateOrderRollsBackOnShortfall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.seedDeclaration(t, "24P60004", 5, "50")

	_, err := f.svc.Create(ctx, validOrderInput(DeclarationRef{
		NumeroDeclaration: "24P60004",
		NbreColisParcelle: 6,
		PoidsParcelle:     decimal.NewFromInt(10),
	}))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientRemaining))

	after, findErr := f.ledgerStore.FindByID(ctx, d.ID)
	require.NoError(t, findErr)
	assert.Equal(t, 5, after.NbreColisRestant)
	_, total, listErr := f.store.ListOrders(ctx, ListFilter{})
	require.NoError(t, listErr)
	assert.Zero(t, total)
}

func TestCreateOrderNumbering(t *testing.T) {
	f := newFixture(t)
	ctx := requestcontext.WithTime(context.Background(), time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))
	f.seedDeclaration(t, "24P60005", 100, "1000")

	first, err := f.svc.Create(ctx, validOrderInput(DeclarationRef{
		NumeroDeclaration: "24P60005", NbreColisParcelle: 1, PoidsParcelle: decimal.NewFromInt(1),
	}))
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, validOrderInput(DeclarationRef{
		NumeroDeclaration: "24P60005", NbreColisParcelle: 1, PoidsParcelle: decimal.NewFromInt(1),
	}))
	require.NoError(t, err)

	assert.Equal(t, "OM-2026-00001", first.Number)
	assert.Equal(t, "OM-2026-00002", second.Number)
}

func TestCreateOrderRejectsDuplicateNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDeclaration(t, "24P60006", 100, "1000")

	in := validOrderInput(DeclarationRef{
		NumeroDeclaration: "24P60006", NbreColisParcelle: 1, PoidsParcelle: decimal.NewFromInt(1),
	})
	in.Number = "OM-CUSTOM-1"
	_, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, in)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validOrderInput()
	in.Destination = ""
	_, err := f.svc.Create(ctx, in)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	in = validOrderInput(
		DeclarationRef{NumeroDeclaration: "X", NbreColisParcelle: 1, PoidsParcelle: decimal.NewFromInt(1)},
		DeclarationRef{NumeroDeclaration: "X", NbreColisParcelle: 1, PoidsParcelle: decimal.NewFromInt(1)},
	)
	_, err = f.svc.Create(ctx, in)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	in = validOrderInput(DeclarationRef{NumeroDeclaration: "X", NbreColisParcelle: 0, PoidsParcelle: decimal.NewFromInt(1)})
	_, err = f.svc.Create(ctx, in)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func createOrder(t *testing.T, f *fixture, numero string) *OrderView {
	t.Helper()
	f.seedDeclaration(t, numero, 10, "100")
	view, err := f.svc.Create(context.Background(), validOrderInput(DeclarationRef{
		NumeroDeclaration: numero, NbreColisParcelle: 4, PoidsParcelle: decimal.NewFromInt(40),
	}))
	require.NoError(t, err)
	return view
}

func TestChangeStatut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := createOrder(t, f, "24P61001")

	t.Run("moves through open statuses", func(t *testing.T) {
		view, err := f.svc.ChangeStatut(ctx, order.ID, StatutDepose)
		require.NoError(t, err)
		assert.Equal(t, StatutDepose, view.Statut)

		view, err = f.svc.ChangeStatut(ctx, order.ID, StatutTraite)
		require.NoError(t, err)
		assert.Equal(t, StatutTraite, view.Statut)
	})

	t.Run("terminal status is final", func(t *testing.T) {
		_, err := f.svc.ChangeStatut(ctx, order.ID, StatutAnnule)
		require.NoError(t, err)

		_, err = f.svc.ChangeStatut(ctx, order.ID, StatutEnCours)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("rejects unknown statut", func(t *testing.T) {
		_, err := f.svc.ChangeStatut(ctx, order.ID, Statut("BOGUS"))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestParseTransitions(t *testing.T) {
	t.Run("converts a configured map", func(t *testing.T) {
		table, err := ParseTransitions(map[string][]string{
			"EN_COURS": {"DEPOSE", "TRAITE"},
			"ANNULE":   nil,
		})
		require.NoError(t, err)
		assert.True(t, table.Allowed(StatutEnCours, StatutDepose))
		assert.False(t, table.Allowed(StatutEnCours, StatutAnnule))
		assert.False(t, table.Allowed(StatutAnnule, StatutEnCours))
	})

	t.Run("empty map means no override", func(t *testing.T) {
		table, err := ParseTransitions(nil)
		require.NoError(t, err)
		assert.Nil(t, table)
	})

	t.Run("rejects unknown source statut", func(t *testing.T) {
		_, err := ParseTransitions(map[string][]string{"EN_C0URS": {"DEPOSE"}})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects unknown target statut", func(t *testing.T) {
		_, err := ParseTransitions(map[string][]string{"EN_COURS": {"DONE"}})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestChangeStatutHonorsCustomTransitions(t *testing.T) {
	ledgerStore := ledger.NewInMemoryStore()
	missionStore := NewInMemoryStore()
	runner := tx.NewMemoryRunner(ledgerStore, missionStore)
	ledgerSvc := ledger.New(ledgerStore)
	strict := TransitionTable{
		StatutEnCours: {StatutDepose},
		StatutDepose:  {StatutTraite},
	}
	svc := New(missionStore, runner, ledgerSvc, ledger.NewAllocator(ledgerStore),
		staticChiefs{bureau: 1, section: 2}, WithTransitions(strict))

	_, err := ledgerSvc.Create(context.Background(), ledger.CreateDeclarationInput{
		NumeroDeclaration: "24P61002",
		DateDeclaration:   time.Now(),
		NbreColisTotal:    10,
		PoidsTotal:        decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	order, err := svc.Create(context.Background(), validOrderInput(DeclarationRef{
		NumeroDeclaration: "24P61002", NbreColisParcelle: 1, PoidsParcelle: decimal.NewFromInt(1),
	}))
	require.NoError(t, err)

	_, err = svc.ChangeStatut(context.Background(), order.ID, StatutTraite)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = svc.ChangeStatut(context.Background(), order.ID, StatutDepose)
	require.NoError(t, err)
}

func TestUpdateStatutApurement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := createOrder(t, f, "24P62001")

	view, err := f.svc.UpdateStatutApurement(ctx, order.ID, "APURE_SE")
	require.NoError(t, err)
	assert.Equal(t, domain.ApurementApureSE, view.Apurement)
	require.NotNil(t, view.DateApurement)

	view, err = f.svc.UpdateStatutApurement(ctx, order.ID, "APURE")
	require.NoError(t, err)
	assert.Equal(t, domain.ApurementApure, view.Apurement)

	_, err = f.svc.UpdateStatutApurement(ctx, order.ID, "NON_APURE")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = f.svc.UpdateStatutApurement(ctx, order.ID, "NOPE")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestRemoveKeepsCountersConsumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := createOrder(t, f, "24P63001")

	require.NoError(t, f.svc.Remove(ctx, order.ID))

	_, err := f.svc.Get(ctx, order.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	// Deleting the paperwork does not resurrect the allocated quantities.
	view, err := f.ledgerSvc.GetByNumero(ctx, "24P63001")
	require.NoError(t, err)
	assert.Equal(t, 6, view.NbreColisRestant)
}

func TestReverseAllocationRestoresCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := createOrder(t, f, "24P64001")
	require.Len(t, order.Allocations, 1)

	require.NoError(t, f.svc.ReverseAllocation(ctx, order.ID, order.Allocations[0].ID))

	view, err := f.ledgerSvc.GetByNumero(ctx, "24P64001")
	require.NoError(t, err)
	assert.Equal(t, 10, view.NbreColisRestant)
	assert.Equal(t, ledger.NonLivre, view.StatutLivraison)
}

func TestReverseAllocationChecksOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := createOrder(t, f, "24P65001")
	second := createOrder(t, f, "24P65002")

	err := f.svc.ReverseAllocation(ctx, first.ID, second.Allocations[0].ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	// The rejected reversal rolled back; the allocation still stands.
	view, getErr := f.svc.Get(ctx, second.ID)
	require.NoError(t, getErr)
	assert.Len(t, view.Allocations, 1)
}

func TestUpdateEditsPlainFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := createOrder(t, f, "24P66001")

	destination := "Ouagadougou"
	agentID := int64(42)
	view, err := f.svc.Update(ctx, order.ID, UpdateOrderInput{
		Destination: &destination,
		AgentID:     &agentID,
	})
	require.NoError(t, err)
	assert.Equal(t, "Ouagadougou", view.Destination)
	require.NotNil(t, view.AgentID)
	assert.Equal(t, int64(42), *view.AgentID)
	// Untouched fields survive.
	assert.Equal(t, "Dakar - Kidira - Bamako", view.Itineraire)
}
