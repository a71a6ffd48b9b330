// Package mission owns the mission-order lifecycle: atomic creation of an
// order with its declarations, allocations, cargo lines and transport units,
// plus the statut / statut-apurement state machines.
package mission

import (
	"time"

	"github.com/shopspring/decimal"

	"escorte/internal/ledger"
	"escorte/pkg/domain"
	dErrors "escorte/pkg/domain-errors"
)

// Statut is the processing status of a mission order.
type Statut string

const (
	StatutEnCours  Statut = "EN_COURS"
	StatutDepose   Statut = "DEPOSE"
	StatutTraite   Statut = "TRAITE"
	StatutCotation Statut = "COTATION"
	StatutRejete   Statut = "REJETE"
	StatutAnnule   Statut = "ANNULE"
)

var validStatuts = map[Statut]bool{
	StatutEnCours:  true,
	StatutDepose:   true,
	StatutTraite:   true,
	StatutCotation: true,
	StatutRejete:   true,
	StatutAnnule:   true,
}

// ParseStatut constructs a Statut from external input.
func ParseStatut(s string) (Statut, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "statut cannot be empty")
	}
	st := Statut(s)
	if !validStatuts[st] {
		return "", dErrors.New(dErrors.CodeValidation, "unsupported statut: "+s)
	}
	return st, nil
}

// TransitionTable is the explicit configuration of allowed statut
// transitions. The legacy workflow never wrote one down, so the table is an
// input to the service rather than hard-coded rules.
type TransitionTable map[Statut][]Statut

// Allowed reports whether from -> to is a configured transition.
func (t TransitionTable) Allowed(from, to Statut) bool {
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseTransitions validates an externally configured transition map and
// converts it into a TransitionTable. Unknown statuses on either side are
// rejected so a typo cannot silently open or close a transition.
func ParseTransitions(raw map[string][]string) (TransitionTable, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	table := make(TransitionTable, len(raw))
	for from, tos := range raw {
		f, err := ParseStatut(from)
		if err != nil {
			return nil, err
		}
		targets := make([]Statut, 0, len(tos))
		for _, to := range tos {
			t, err := ParseStatut(to)
			if err != nil {
				return nil, err
			}
			targets = append(targets, t)
		}
		table[f] = targets
	}
	return table, nil
}

// DefaultTransitions blocks transitions out of the terminal statuses
// (REJETE, ANNULE) and otherwise lets an order move freely through the
// processing pipeline, matching observed usage.
func DefaultTransitions() TransitionTable {
	open := []Statut{StatutEnCours, StatutDepose, StatutTraite, StatutCotation, StatutRejete, StatutAnnule}
	return TransitionTable{
		StatutEnCours:  open,
		StatutDepose:   open,
		StatutTraite:   open,
		StatutCotation: open,
		StatutRejete:   nil,
		StatutAnnule:   nil,
	}
}

// TransportKind discriminates the transport-unit collections.
type TransportKind string

const (
	KindContainer TransportKind = "CONTAINER"
	KindTruck     TransportKind = "TRUCK"
	KindCar       TransportKind = "CAR"
)

// MissionOrder is an escorted transit movement of goods from a transit house
// to an exit office.
//
// ChefBureauID and ChefSectionID are snapshots of the office chiefs in
// effect at creation time. They are a historical record, not live pointers,
// and never change after creation.
type MissionOrder struct {
	ID           int64                  `json:"id"`
	Number       string                 `json:"number"`
	Destination  string                 `json:"destination"`
	Itineraire   string                 `json:"itineraire,omitempty"`
	DateOrdre    time.Time              `json:"dateOrdre"`
	Observations string                 `json:"observations,omitempty"`
	Statut        Statut                 `json:"statut"`
	Apurement     domain.StatutApurement `json:"statutApurement"`
	DateApurement *time.Time             `json:"dateApurement,omitempty"`

	DepositaireID   *int64 `json:"depositaireId,omitempty"`
	MaisonTransitID *int64 `json:"maisonTransitId,omitempty"`
	BureauSortieID  *int64 `json:"bureauSortieId,omitempty"`
	AgentID         *int64 `json:"agentId,omitempty"`
	EscouadeID      *int64 `json:"escouadeId,omitempty"`
	ChefBureauID    int64  `json:"chefBureauId"`
	ChefSectionID   int64  `json:"chefSectionId"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"-"`
}

// CargoLine is one declared line of goods escorted by an order. Pure value
// record; no lifecycle beyond create and soft-delete.
type CargoLine struct {
	ID               int64            `json:"id"`
	MissionOrderID   int64            `json:"missionOrderId"`
	DeclarationID    *int64           `json:"declarationId,omitempty"`
	Nature           string           `json:"nature"`
	PositionTarifaire string          `json:"positionTarifaire,omitempty"`
	Nombre           int              `json:"nombre"`
	Poids            decimal.Decimal  `json:"poids"`
	Valeur           *decimal.Decimal `json:"valeur,omitempty"`
}

// TransportUnit is one container, truck, or car attached to an order.
type TransportUnit struct {
	ID             int64         `json:"id"`
	MissionOrderID int64         `json:"missionOrderId"`
	Kind           TransportKind `json:"kind"`
	Identifier     string        `json:"identifier"`
}

// OrderView assembles an order with its owned collections.
type OrderView struct {
	MissionOrder
	CargoLines  []*CargoLine               `json:"colis"`
	Containers  []*TransportUnit           `json:"conteneurs"`
	Trucks      []*TransportUnit           `json:"camions"`
	Cars        []*TransportUnit           `json:"voitures"`
	Allocations []*ledger.ParcelAllocation `json:"parcelles"`
}

// DeclarationRef attributes part of an order's cargo to one declaration,
// either an existing one referenced by number or a new one created inline.
type DeclarationRef struct {
	NumeroDeclaration string                          `json:"numeroDeclaration"`
	Declaration       *ledger.CreateDeclarationInput  `json:"declaration,omitempty"`
	NbreColisParcelle int                             `json:"nbreColisParcelle"`
	PoidsParcelle     decimal.Decimal                 `json:"poidsParcelle"`
}

// CargoLineInput is one cargo line of a creation payload.
type CargoLineInput struct {
	NumeroDeclaration string           `json:"numeroDeclaration,omitempty"`
	Nature            string           `json:"nature"`
	PositionTarifaire string           `json:"positionTarifaire,omitempty"`
	Nombre            int              `json:"nombre"`
	Poids             decimal.Decimal  `json:"poids"`
	Valeur            *decimal.Decimal `json:"valeur,omitempty"`
}

// CreateOrderInput is the validated aggregate command for Create. The whole
// payload is persisted in one transaction.
type CreateOrderInput struct {
	Number       string    `json:"number,omitempty"`
	Destination  string    `json:"destination"`
	Itineraire   string    `json:"itineraire,omitempty"`
	DateOrdre    time.Time `json:"dateOrdre"`
	Observations string    `json:"observations,omitempty"`

	DepositaireID   *int64 `json:"depositaireId,omitempty"`
	MaisonTransitID *int64 `json:"maisonTransitId,omitempty"`
	BureauSortieID  *int64 `json:"bureauSortieId,omitempty"`
	AgentID         *int64 `json:"agentId,omitempty"`
	EscouadeID      *int64 `json:"escouadeId,omitempty"`

	Declarations []DeclarationRef `json:"declarations"`
	CargoLines   []CargoLineInput `json:"colis"`
	Containers   []string         `json:"conteneurs"`
	Trucks       []string         `json:"camions"`
	Cars         []string         `json:"voitures"`
}

// Validate enforces creation invariants before any transaction opens.
func (in CreateOrderInput) Validate() error {
	if in.Destination == "" {
		return dErrors.New(dErrors.CodeValidation, "destination is required")
	}
	if in.DateOrdre.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "dateOrdre is required")
	}
	seen := make(map[string]bool, len(in.Declarations))
	for i, ref := range in.Declarations {
		if ref.NumeroDeclaration == "" && ref.Declaration == nil {
			return dErrors.Newf(dErrors.CodeValidation, "declarations[%d]: numeroDeclaration or inline declaration required", i)
		}
		numero := ref.NumeroDeclaration
		if ref.Declaration != nil {
			if numero == "" {
				numero = ref.Declaration.NumeroDeclaration
			}
			if err := ref.Declaration.Validate(); err != nil {
				return err
			}
		}
		if seen[numero] {
			return dErrors.Newf(dErrors.CodeValidation, "declarations[%d]: duplicate reference to %s", i, numero)
		}
		seen[numero] = true
		if ref.NbreColisParcelle <= 0 {
			return dErrors.Newf(dErrors.CodeValidation, "declarations[%d]: nbreColisParcelle must be positive", i)
		}
		if ref.PoidsParcelle.IsNegative() {
			return dErrors.Newf(dErrors.CodeValidation, "declarations[%d]: poidsParcelle cannot be negative", i)
		}
	}
	for i, line := range in.CargoLines {
		if line.Nature == "" {
			return dErrors.Newf(dErrors.CodeValidation, "colis[%d]: nature is required", i)
		}
		if line.Nombre <= 0 {
			return dErrors.Newf(dErrors.CodeValidation, "colis[%d]: nombre must be positive", i)
		}
	}
	return nil
}

// UpdateOrderInput covers plain field edits. Statuses move only through
// ChangeStatut / UpdateStatutApurement.
type UpdateOrderInput struct {
	Destination  *string `json:"destination,omitempty"`
	Itineraire   *string `json:"itineraire,omitempty"`
	Observations *string `json:"observations,omitempty"`
	AgentID      *int64  `json:"agentId,omitempty"`
	EscouadeID   *int64  `json:"escouadeId,omitempty"`
}

// ListFilter narrows paginated order listings.
type ListFilter struct {
	Statut    *Statut
	Apurement *domain.StatutApurement
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PerPage   int
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
