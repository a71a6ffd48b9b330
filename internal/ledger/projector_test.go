package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProject(t *testing.T) {
	tests := []struct {
		name            string
		total           int
		restant         int
		poidsTotal      string
		poidsRestant    string
		allocationCount int
		wantStatut      StatutLivraison
		wantLivres      int
		wantPourcentage int
	}{
		{
			name:  "untouched declaration is non livre",
			total: 10, restant: 10, poidsTotal: "100", poidsRestant: "100",
			allocationCount: 0,
			wantStatut:      NonLivre, wantLivres: 0, wantPourcentage: 0,
		},
		{
			name:  "partially allocated",
			total: 10, restant: 6, poidsTotal: "100", poidsRestant: "60",
			allocationCount: 1,
			wantStatut:      PartiellementLivre, wantLivres: 4, wantPourcentage: 40,
		},
		{
			name:  "fully allocated",
			total: 10, restant: 0, poidsTotal: "100", poidsRestant: "0",
			allocationCount: 2,
			wantStatut:      TotalementLivre, wantLivres: 10, wantPourcentage: 100,
		},
		{
			name:  "percentage rounds to nearest",
			total: 3, restant: 2, poidsTotal: "30", poidsRestant: "20",
			allocationCount: 1,
			wantStatut:      PartiellementLivre, wantLivres: 1, wantPourcentage: 33,
		},
		{
			name:  "zero total is always non livre",
			total: 0, restant: 0, poidsTotal: "0", poidsRestant: "0",
			allocationCount: 3,
			wantStatut:      NonLivre, wantLivres: 0, wantPourcentage: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Declaration{
				NbreColisTotal:   tt.total,
				NbreColisRestant: tt.restant,
				PoidsTotal:       decimal.RequireFromString(tt.poidsTotal),
				PoidsRestant:     decimal.RequireFromString(tt.poidsRestant),
			}
			got := Project(d, tt.allocationCount)
			assert.Equal(t, tt.wantStatut, got.StatutLivraison)
			assert.Equal(t, tt.wantLivres, got.NbreColisLivres)
			assert.Equal(t, tt.wantPourcentage, got.PourcentageLivraison)
			assert.True(t, d.PoidsTotal.Sub(d.PoidsRestant).Equal(got.PoidsLivre))
		})
	}
}

func TestProjectIsStable(t *testing.T) {
	d := &Declaration{
		NbreColisTotal:   8,
		NbreColisRestant: 3,
		PoidsTotal:       decimal.NewFromInt(80),
		PoidsRestant:     decimal.NewFromInt(30),
	}
	first := Project(d, 2)
	second := Project(d, 2)
	assert.Equal(t, first, second)
}
