package storage

import (
	"context"
	"errors"
	"time"

	"fare-alerts/internal/domain"
)

var (
	// ErrOutOfRange is returned by RemoveAt when the position does not exist in the owner's view.
	ErrOutOfRange = errors.New("storage: index out of range")
	// ErrStorage wraps persistence failures that must reach the caller.
	ErrStorage = errors.New("storage: persistence failure")
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// AlertRegistry owns the durable set of alerts.
type AlertRegistry interface {
	AddAlert(ctx context.Context, alert domain.Alert) (domain.AlertID, error)
	ListActive(ctx context.Context, owner domain.UserID) ([]domain.Alert, error)
	ListAllActive(ctx context.Context) ([]domain.Alert, error)
	RemoveAt(ctx context.Context, owner domain.UserID, index int) (domain.Alert, error)
	Remove(ctx context.Context, owner domain.UserID, id domain.AlertID) (domain.Alert, error)
	MarkNotified(ctx context.Context, id domain.AlertID, at time.Time, digestKey string) error
}

// ApprovalRegistry owns the durable access decisions.
type ApprovalRegistry interface {
	Register(ctx context.Context, id domain.UserID, displayName string) (domain.RegisterResult, error)
	Approve(ctx context.Context, id domain.UserID) (domain.UserApproval, error)
	Deny(ctx context.Context, id domain.UserID) (domain.UserApproval, error)
	IsApproved(ctx context.Context, id domain.UserID) (bool, error)
	Lookup(ctx context.Context, id domain.UserID) (domain.UserApproval, bool, error)
	ListPending(ctx context.Context) ([]domain.UserApproval, error)
}

// Registry is the single shared mutable resource of the process.
type Registry interface {
	AlertRegistry
	ApprovalRegistry
	Close()
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
