package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// These represent factual states about rows, not validation failures:
// - ErrNotFound: row does not exist (or is soft-deleted)
// - ErrConflict: unique key already taken by a non-deleted row
// - ErrInvalidState: row in the wrong state for the requested operation
// - ErrInsufficient: a remaining counter would go negative if decremented
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrInsufficient = errors.New("insufficient remaining")
)
