// Package modification implements the request-for-change workflow on mission
// orders: agents ask, a chief approves or rejects, and at most one request
// per order may be pending at a time.
package modification

import (
	"time"

	dErrors "escorte/pkg/domain-errors"
)

// Status of a modification request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// RequestType categorizes what the requester wants changed.
type RequestType string

const (
	TypeFieldEdit  RequestType = "FIELD_EDIT"
	TypeAllocation RequestType = "ALLOCATION"
	TypeCancel     RequestType = "CANCEL"
)

var validTypes = map[RequestType]bool{
	TypeFieldEdit:  true,
	TypeAllocation: true,
	TypeCancel:     true,
}

// Request is one modification request against a mission order.
type Request struct {
	ID              int64       `json:"id"`
	MissionOrderID  int64       `json:"missionOrderId"`
	RequesterID     int64       `json:"requesterId"`
	ReviewerID      *int64      `json:"reviewerId,omitempty"`
	Status          Status      `json:"status"`
	Type            RequestType `json:"type"`
	Reason          string      `json:"reason"`
	RejectionReason string      `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	ReviewedAt      *time.Time  `json:"reviewedAt,omitempty"`
}

// SubmitInput is the creation payload.
type SubmitInput struct {
	MissionOrderID int64       `json:"missionOrderId"`
	Type           RequestType `json:"type"`
	Reason         string      `json:"reason"`
}

// Validate enforces submission invariants.
func (in SubmitInput) Validate() error {
	if in.MissionOrderID <= 0 {
		return dErrors.New(dErrors.CodeValidation, "missionOrderId is required")
	}
	if !validTypes[in.Type] {
		return dErrors.Newf(dErrors.CodeValidation, "unsupported request type: %s", in.Type)
	}
	if in.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// ReviewInput is the decision payload.
type ReviewInput struct {
	Approve         bool   `json:"approve"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}
