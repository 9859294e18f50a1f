package access

import (
	"context"
	"errors"
	"fmt"

	"fare-alerts/internal/domain"
	"fare-alerts/internal/storage"
)

var (
	// ErrPending is returned for identities still awaiting an administrator decision.
	ErrPending = errors.New("access: approval pending")
	// ErrDenied is returned for identities the administrator refused.
	ErrDenied = errors.New("access: denied")
	// ErrUnregistered is returned for identities that never registered.
	ErrUnregistered = errors.New("access: unregistered")
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	Unknown Decision = iota
	Allowed
	Pending
	Denied
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Pending:
		return "pending"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Err converts a non-allowed decision into its sentinel error.
func (d Decision) Err() error {
	switch d {
	case Allowed:
		return nil
	case Pending:
		return ErrPending
	case Denied:
		return ErrDenied
	default:
		return ErrUnregistered
	}
}

// Gate answers whether an identity may list or mutate alerts. It never writes.
type Gate struct {
	approvals storage.ApprovalRegistry
	admin     domain.UserID
}

// NewGate wires the approval registry and the administrator identity.
func NewGate(approvals storage.ApprovalRegistry, admin domain.UserID) *Gate {
	return &Gate{approvals: approvals, admin: admin}
}

// IsAdmin reports whether id is the administrator.
func (g *Gate) IsAdmin(id domain.UserID) bool {
	return g.admin != 0 && id == g.admin
}

// Admin returns the administrator identity.
func (g *Gate) Admin() domain.UserID {
	return g.admin
}

// Authorize maps the stored approval of id to a Decision.
func (g *Gate) Authorize(ctx context.Context, id domain.UserID) (Decision, error) {
	if g.IsAdmin(id) {
		return Allowed, nil
	}
	approval, ok, err := g.approvals.Lookup(ctx, id)
	if err != nil {
		return Unknown, fmt.Errorf("authorize %d: %w", id, err)
	}
	if !ok {
		return Unknown, nil
	}
	switch approval.Status {
	case domain.ApprovalApproved:
		return Allowed, nil
	case domain.ApprovalDenied:
		return Denied, nil
	default:
		return Pending, nil
	}
}
