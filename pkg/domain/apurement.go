package domain

import dErrors "escorte/pkg/domain-errors"

// StatutApurement is the customs-clearance status shared by declarations
// and mission orders.
// Invariant: the value must be one of the supported clearance statuses.
//
// Usage: construct via ParseStatutApurement at trust boundaries to enforce
// the allowlist; direct casting bypasses validation.
type StatutApurement string

const (
	ApurementNonApure StatutApurement = "NON_APURE"
	ApurementApureSE  StatutApurement = "APURE_SE"
	ApurementApure    StatutApurement = "APURE"
	ApurementRejet    StatutApurement = "REJET"
)

// validApurements is the single source of truth for valid clearance statuses.
var validApurements = map[StatutApurement]bool{
	ApurementNonApure: true,
	ApurementApureSE:  true,
	ApurementApure:    true,
	ApurementRejet:    true,
}

// ParseStatutApurement constructs a StatutApurement from external input.
func ParseStatutApurement(s string) (StatutApurement, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "statut apurement cannot be empty")
	}
	st := StatutApurement(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unsupported statut apurement: "+s)
	}
	return st, nil
}

func (s StatutApurement) IsValid() bool {
	return validApurements[s]
}

// IsTerminal reports whether the clearance status closes the record for
// audit purposes. Leaving a terminal status requires the explicit
// clearance-change operation, never a plain update.
func (s StatutApurement) IsTerminal() bool {
	return s == ApurementApure || s == ApurementRejet
}

func (s StatutApurement) String() string { return string(s) }
