package ledger

import (
	"math"

	"github.com/shopspring/decimal"
)

// StatutLivraison is the derived delivery status of a declaration. It is a
// view computed on read paths, never a stored column.
type StatutLivraison string

const (
	TotalementLivre    StatutLivraison = "TOTALEMENT_LIVRE"
	PartiellementLivre StatutLivraison = "PARTIELLEMENT_LIVRE"
	NonLivre           StatutLivraison = "NON_LIVRE"
)

// DeliveryProjection carries the derived delivery fields of a declaration.
type DeliveryProjection struct {
	NbreColisLivres      int             `json:"nbreColisLivres"`
	PoidsLivre           decimal.Decimal `json:"poidsLivre"`
	PourcentageLivraison int             `json:"pourcentageLivraison"`
	StatutLivraison      StatutLivraison `json:"statutLivraison"`
}

// Project derives delivery fields from the raw counters and the count of
// non-deleted parcel allocations. Pure and side-effect free; repeated calls
// on the same inputs return identical results.
//
// A declaration with NbreColisTotal == 0 is always NON_LIVRE regardless of
// allocation count, and its percentage is defined as 0.
func Project(d *Declaration, allocationCount int) DeliveryProjection {
	p := DeliveryProjection{
		NbreColisLivres: d.NbreColisTotal - d.NbreColisRestant,
		PoidsLivre:      d.PoidsTotal.Sub(d.PoidsRestant),
	}

	if d.NbreColisTotal <= 0 {
		p.StatutLivraison = NonLivre
		return p
	}

	p.PourcentageLivraison = int(math.Round(float64(p.NbreColisLivres) / float64(d.NbreColisTotal) * 100))

	switch {
	case d.NbreColisRestant == 0:
		p.StatutLivraison = TotalementLivre
	case allocationCount > 0:
		p.StatutLivraison = PartiellementLivre
	default:
		p.StatutLivraison = NonLivre
	}
	return p
}
