package domain

import "time"

// ApprovalStatus is the access decision for one identity.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// UserApproval records an identity's access request. Records are never deleted.
type UserApproval struct {
	ID          UserID         `json:"id"`
	DisplayName string         `json:"display_name"`
	Status      ApprovalStatus `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
}

// RegisterResult is returned by Register: the prior status, or RegisteredNew.
type RegisterResult string

const (
	RegisteredNew      RegisterResult = "new"
	RegisteredPending  RegisterResult = "pending"
	RegisteredApproved RegisterResult = "approved"
	RegisteredDenied   RegisterResult = "denied"
)

// ResultFor maps a stored status to the Register result.
func ResultFor(status ApprovalStatus) RegisterResult {
	switch status {
	case ApprovalApproved:
		return RegisteredApproved
	case ApprovalDenied:
		return RegisteredDenied
	default:
		return RegisteredPending
	}
}
