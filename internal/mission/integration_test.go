//go:build integration

package mission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escorte/internal/ledger"
	dErrors "escorte/pkg/domain-errors"
	"escorte/pkg/platform/tx"
	"escorte/pkg/testutil/containers"
)

type pgEnv struct {
	pc        *containers.PostgresContainer
	svc       *Service
	ledgerSvc *ledger.Service
	store     *PostgresStore
}

func newPGEnv(t *testing.T) *pgEnv {
	t.Helper()
	pc := containers.NewPostgresContainer(t)
	ledgerStore := ledger.NewPostgres(pc.DB)
	missionStore := NewPostgres(pc.DB)
	ledgerSvc := ledger.New(ledgerStore)
	svc := New(missionStore, tx.SQLRunner{DB: pc.DB}, ledgerSvc,
		ledger.NewAllocator(ledgerStore), staticChiefs{bureau: 7, section: 9})
	return &pgEnv{pc: pc, svc: svc, ledgerSvc: ledgerSvc, store: missionStore}
}

func (e *pgEnv) seedDeclaration(t *testing.T, numero string, colis int) *ledger.Declaration {
	t.Helper()
	d, err := e.ledgerSvc.Create(context.Background(), ledger.CreateDeclarationInput{
		NumeroDeclaration: numero,
		DateDeclaration:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		NbreColisTotal:    colis,
		PoidsTotal:        decimal.NewFromInt(int64(colis) * 10),
	})
	require.NoError(t, err)
	return d
}

func orderInput(refs ...DeclarationRef) CreateOrderInput {
	return CreateOrderInput{
		Destination:  "Bamako",
		DateOrdre:    time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC),
		Declarations: refs,
		CargoLines:   []CargoLineInput{{Nature: "Riz", Nombre: 4, Poids: decimal.NewFromInt(40)}},
		Containers:   []string{"MSKU1234567"},
		Trucks:       []string{"DK-4521-AB"},
	}
}

func TestPostgresOrderGraph(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()
	env.seedDeclaration(t, "24P80001", 10)

	view, err := env.svc.Create(ctx, orderInput(DeclarationRef{
		NumeroDeclaration: "24P80001", NbreColisParcelle: 4, PoidsParcelle: decimal.NewFromInt(40),
	}))
	require.NoError(t, err)
	assert.Len(t, view.Allocations, 1)
	assert.Len(t, view.CargoLines, 1)
	assert.Len(t, view.Containers, 1)
	assert.Len(t, view.Trucks, 1)

	reloaded, err := env.svc.GetByNumber(ctx, view.Number)
	require.NoError(t, err)
	assert.Equal(t, view.ID, reloaded.ID)
	assert.Equal(t, int64(7), reloaded.ChefBureauID)

	after, err := env.ledgerSvc.GetByNumero(ctx, "24P80001")
	require.NoError(t, err)
	assert.Equal(t, 6, after.NbreColisRestant)
	assert.Equal(t, ledger.PartiellementLivre, after.StatutLivraison)
}

func TestPostgresCreateRollsBackWholeGraph(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()
	env.seedDeclaration(t, "24P81001", 10)

	_, err := env.svc.Create(ctx, orderInput(
		DeclarationRef{NumeroDeclaration: "24P81001", NbreColisParcelle: 4, PoidsParcelle: decimal.NewFromInt(40)},
		DeclarationRef{NumeroDeclaration: "24PMISSING", NbreColisParcelle: 1, PoidsParcelle: decimal.NewFromInt(1)},
	))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	_, total, err := env.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)

	after, err := env.ledgerSvc.GetByNumero(ctx, "24P81001")
	require.NoError(t, err)
	assert.Equal(t, 10, after.NbreColisRestant)

	var allocations int
	require.NoError(t, env.pc.DB.QueryRow(`SELECT COUNT(*) FROM parcel_allocations`).Scan(&allocations))
	assert.Zero(t, allocations)
}

// Two orders racing for the last remaining quantity must resolve to one
// success and one shortfall, never a negative counter. The row lock taken by
// the allocator serializes them.
func TestPostgresConcurrentAllocation(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()
	env.seedDeclaration(t, "24P82001", 10)

	input := func() CreateOrderInput {
		return orderInput(DeclarationRef{
			NumeroDeclaration: "24P82001", NbreColisParcelle: 6, PoidsParcelle: decimal.NewFromInt(60),
		})
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = env.svc.Create(ctx, input())
		}()
	}
	wg.Wait()

	var succeeded, shortfalls int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case dErrors.HasCode(err, dErrors.CodeInsufficientRemaining):
			shortfalls++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, shortfalls)

	after, err := env.ledgerSvc.GetByNumero(ctx, "24P82001")
	require.NoError(t, err)
	assert.Equal(t, 4, after.NbreColisRestant)
}

func TestPostgresReverseAllocation(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()
	env.seedDeclaration(t, "24P83001", 10)

	view, err := env.svc.Create(ctx, orderInput(DeclarationRef{
		NumeroDeclaration: "24P83001", NbreColisParcelle: 4, PoidsParcelle: decimal.NewFromInt(40),
	}))
	require.NoError(t, err)
	require.Len(t, view.Allocations, 1)

	require.NoError(t, env.svc.ReverseAllocation(ctx, view.ID, view.Allocations[0].ID))

	after, err := env.ledgerSvc.GetByNumero(ctx, "24P83001")
	require.NoError(t, err)
	assert.Equal(t, 10, after.NbreColisRestant)
	assert.Equal(t, ledger.NonLivre, after.StatutLivraison)
}

func TestPostgresListOrdersInsideTransaction(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()
	env.seedDeclaration(t, "24P85001", 100)

	ref := DeclarationRef{NumeroDeclaration: "24P85001", NbreColisParcelle: 1, PoidsParcelle: decimal.NewFromInt(1)}
	for range 3 {
		_, err := env.svc.Create(ctx, orderInput(ref))
		require.NoError(t, err)
	}

	// ListOrders fans out count and page concurrently, so it must stay off
	// any transaction carried by the context.
	runner := tx.SQLRunner{DB: env.pc.DB}
	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		orders, total, err := env.store.ListOrders(txCtx, ListFilter{Page: 1, PerPage: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, orders, 2)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresNumberingSurvivesSoftDelete(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()
	env.seedDeclaration(t, "24P84001", 100)

	ref := DeclarationRef{NumeroDeclaration: "24P84001", NbreColisParcelle: 1, PoidsParcelle: decimal.NewFromInt(1)}
	first, err := env.svc.Create(ctx, orderInput(ref))
	require.NoError(t, err)
	require.NoError(t, env.svc.Remove(ctx, first.ID))

	second, err := env.svc.Create(ctx, orderInput(ref))
	require.NoError(t, err)
	assert.NotEqual(t, first.Number, second.Number)
}
