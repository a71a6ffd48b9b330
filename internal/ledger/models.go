// Package ledger is the source of truth for how much of each declaration is
// still unallocated. Remaining counters are mutated only through
// DecrementRemaining/RestoreRemaining inside a transaction shared with the
// corresponding allocation write; nothing else may touch them.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"escorte/pkg/domain"
	dErrors "escorte/pkg/domain-errors"
)

// Declaration is a customs declaration stating the total goods to be moved.
// It may be fulfilled across multiple mission orders.
//
// Invariants:
//   - 0 <= NbreColisRestant <= NbreColisTotal
//   - 0 <= PoidsRestant <= PoidsTotal
//   - NumeroDeclaration unique among non-deleted rows
//   - delivered amounts are derived (Total - Restant), never stored
type Declaration struct {
	ID                int64                   `json:"id"`
	NumeroDeclaration string                  `json:"numeroDeclaration"`
	DateDeclaration   time.Time               `json:"dateDeclaration"`
	NbreColisTotal    int                     `json:"nbreColisTotal"`
	PoidsTotal        decimal.Decimal         `json:"poidsTotal"`
	NbreColisRestant  int                     `json:"nbreColisRestant"`
	PoidsRestant      decimal.Decimal         `json:"poidsRestant"`
	StatutApurement   *domain.StatutApurement `json:"statutApurement,omitempty"`
	DateApurement     *time.Time              `json:"dateApurement,omitempty"`

	RegimeID        *int64 `json:"regimeId,omitempty"`
	MaisonTransitID *int64 `json:"maisonTransitId,omitempty"`
	DepositaireID   *int64 `json:"depositaireId,omitempty"`
	BureauSortieID  *int64 `json:"bureauSortieId,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"-"`
}

// ParcelAllocation is the portion of a declaration's quantity consumed by one
// mission order. Rows are created atomically with their owning order and are
// never updated afterwards; corrections reverse and recreate.
type ParcelAllocation struct {
	ID                int64           `json:"id"`
	MissionOrderID    int64           `json:"missionOrderId"`
	DeclarationID     int64           `json:"declarationId"`
	NbreColisParcelle int             `json:"nbreColisParcelle"`
	PoidsParcelle     decimal.Decimal `json:"poidsParcelle"`
	CreatedAt         time.Time       `json:"createdAt"`
	DeletedAt         *time.Time      `json:"-"`
}

// CreateDeclarationInput is the validated command for Create.
type CreateDeclarationInput struct {
	NumeroDeclaration string          `json:"numeroDeclaration"`
	DateDeclaration   time.Time       `json:"dateDeclaration"`
	NbreColisTotal    int             `json:"nbreColisTotal"`
	PoidsTotal        decimal.Decimal `json:"poidsTotal"`
	RegimeID          *int64          `json:"regimeId,omitempty"`
	MaisonTransitID   *int64          `json:"maisonTransitId,omitempty"`
	DepositaireID     *int64          `json:"depositaireId,omitempty"`
	BureauSortieID    *int64          `json:"bureauSortieId,omitempty"`
}

// Validate enforces creation invariants before any transaction opens.
func (in CreateDeclarationInput) Validate() error {
	if in.NumeroDeclaration == "" {
		return dErrors.New(dErrors.CodeValidation, "numeroDeclaration is required")
	}
	if in.NbreColisTotal <= 0 {
		return dErrors.New(dErrors.CodeValidation, "nbreColisTotal must be positive")
	}
	if !in.PoidsTotal.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, "poidsTotal must be positive")
	}
	return nil
}

// NewDeclaration builds a Declaration with remaining counters initialized to
// the declared totals.
func NewDeclaration(in CreateDeclarationInput, now time.Time) (*Declaration, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &Declaration{
		NumeroDeclaration: in.NumeroDeclaration,
		DateDeclaration:   in.DateDeclaration,
		NbreColisTotal:    in.NbreColisTotal,
		PoidsTotal:        in.PoidsTotal,
		NbreColisRestant:  in.NbreColisTotal,
		PoidsRestant:      in.PoidsTotal,
		RegimeID:          in.RegimeID,
		MaisonTransitID:   in.MaisonTransitID,
		DepositaireID:     in.DepositaireID,
		BureauSortieID:    in.BureauSortieID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// InsufficientRemainingError reports an allocation exceeding a declaration's
// remaining quantity or weight. It names the declaration, the requested
// amount, and what actually remains.
type InsufficientRemainingError struct {
	NumeroDeclaration string
	Field             string // "nbre_colis" or "poids"
	Requested         decimal.Decimal
	Remaining         decimal.Decimal
}

func (e InsufficientRemainingError) Error() string {
	return fmt.Sprintf("declaration %s: requested %s %s but only %s remaining (shortfall %s)",
		e.NumeroDeclaration, e.Requested, e.Field, e.Remaining, e.Shortfall())
}

// Shortfall is the amount by which the request exceeds what remains.
func (e InsufficientRemainingError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Remaining)
}
