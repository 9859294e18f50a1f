package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fare-alerts/internal/domain"
)

// MemoryStore keeps the registry in process memory. Each call runs under one
// lock: the mutation is built on a copy, handed to the optional flush hook and
// published only when the hook succeeds.
type MemoryStore struct {
	mu        sync.Mutex
	admin     domain.UserID
	alerts    []domain.Alert
	approvals []domain.UserApproval

	now            func() time.Time
	newID          func() domain.AlertID
	flushAlerts    func([]domain.Alert) error
	flushApprovals func([]domain.UserApproval) error
	// load, when set, replaces both collections from durable state before
	// every call so writes made by another process are not lost.
	load func() ([]domain.Alert, []domain.UserApproval, error)
}

// NewMemoryStore builds an empty registry. admin is always implicitly approved.
func NewMemoryStore(admin domain.UserID) *MemoryStore {
	return &MemoryStore{
		admin: admin,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() domain.AlertID { return domain.AlertID(uuid.NewString()) },
	}
}

// SetClock overrides the time source; used by tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Close() {}

func (m *MemoryStore) AddAlert(ctx context.Context, alert domain.Alert) (domain.AlertID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refresh(); err != nil {
		return "", err
	}

	alert.ID = m.newID()
	alert.Active = true
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = m.now()
	}

	next := make([]domain.Alert, len(m.alerts), len(m.alerts)+1)
	copy(next, m.alerts)
	next = append(next, alert)
	if err := m.commitAlerts(next); err != nil {
		return "", err
	}
	return alert.ID, nil
}

func (m *MemoryStore) ListActive(ctx context.Context, owner domain.UserID) ([]domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refresh(); err != nil {
		return nil, err
	}

	out := make([]domain.Alert, 0)
	for _, idx := range m.activeIndexes(owner) {
		out = append(out, m.alerts[idx])
	}
	return out, nil
}

func (m *MemoryStore) ListAllActive(ctx context.Context) ([]domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refresh(); err != nil {
		return nil, err
	}

	out := make([]domain.Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		if alert.Active {
			out = append(out, alert)
		}
	}
	return out, nil
}

func (m *MemoryStore) RemoveAt(ctx context.Context, owner domain.UserID, index int) (domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refresh(); err != nil {
		return domain.Alert{}, err
	}

	view := m.activeIndexes(owner)
	if index < 0 || index >= len(view) {
		return domain.Alert{}, fmt.Errorf("%w: %d of %d", ErrOutOfRange, index, len(view))
	}
	return m.deactivate(view[index])
}

func (m *MemoryStore) Remove(ctx context.Context, owner domain.UserID, id domain.AlertID) (domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refresh(); err != nil {
		return domain.Alert{}, err
	}

	for _, idx := range m.activeIndexes(owner) {
		if m.alerts[idx].ID == id {
			return m.deactivate(idx)
		}
	}
	return domain.Alert{}, domain.ErrNotFound
}

func (m *MemoryStore) MarkNotified(ctx context.Context, id domain.AlertID, at time.Time, digestKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refresh(); err != nil {
		return err
	}

	for i, alert := range m.alerts {
		if alert.ID != id {
			continue
		}
		next := cloneAlerts(m.alerts)
		stamp := at.UTC()
		next[i].LastNotifiedAt = &stamp
		next[i].LastDigestKey = digestKey
		return m.commitAlerts(next)
	}
	return domain.ErrNotFound
}

func (m *MemoryStore) Register(ctx context.Context, id domain.UserID, displayName string) (domain.RegisterResult, error) {
	if id == m.admin {
		return domain.RegisteredApproved, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refresh(); err != nil {
		return "", err
	}

	if i := m.approvalIndex(id); i >= 0 {
		return domain.ResultFor(m.approvals[i].Status), nil
	}

	next := make([]domain.UserApproval, len(m.approvals), len(m.approvals)+1)
	copy(next, m.approvals)
	next = append(next, domain.UserApproval{
		ID:          id,
		DisplayName: displayName,
		Status:      domain.ApprovalPending,
		RequestedAt: m.now(),
	})
	if err := m.commitApprovals(next); err != nil {
		return "", err
	}
	return domain.RegisteredNew, nil
}

func (m *MemoryStore) Approve(ctx context.Context, id domain.UserID) (domain.UserApproval, error) {
	return m.decide(id, domain.ApprovalApproved)
}

func (m *MemoryStore) Deny(ctx context.Context, id domain.UserID) (domain.UserApproval, error) {
	return m.decide(id, domain.ApprovalDenied)
}

func (m *MemoryStore) IsApproved(ctx context.Context, id domain.UserID) (bool, error) {
	if id == m.admin {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refresh(); err != nil {
		return false, err
	}

	i := m.approvalIndex(id)
	return i >= 0 && m.approvals[i].Status == domain.ApprovalApproved, nil
}

func (m *MemoryStore) Lookup(ctx context.Context, id domain.UserID) (domain.UserApproval, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refresh(); err != nil {
		return domain.UserApproval{}, false, err
	}

	i := m.approvalIndex(id)
	if i < 0 {
		return domain.UserApproval{}, false, nil
	}
	return m.approvals[i], true, nil
}

func (m *MemoryStore) ListPending(ctx context.Context) ([]domain.UserApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refresh(); err != nil {
		return nil, err
	}

	out := make([]domain.UserApproval, 0)
	for _, approval := range m.approvals {
		if approval.Status == domain.ApprovalPending {
			out = append(out, approval)
		}
	}
	return out, nil
}

// decide records an administrator decision. Deciding on the admin itself is a no-op.
func (m *MemoryStore) decide(id domain.UserID, status domain.ApprovalStatus) (domain.UserApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refresh(); err != nil {
		return domain.UserApproval{}, err
	}

	i := m.approvalIndex(id)
	if i < 0 {
		return domain.UserApproval{}, domain.ErrNotFound
	}
	if m.approvals[i].Status == status {
		return m.approvals[i], nil
	}

	next := make([]domain.UserApproval, len(m.approvals))
	copy(next, m.approvals)
	decided := m.now()
	next[i].Status = status
	next[i].DecidedAt = &decided
	if err := m.commitApprovals(next); err != nil {
		return domain.UserApproval{}, err
	}
	return next[i], nil
}

func (m *MemoryStore) refresh() error {
	if m.load == nil {
		return nil
	}
	alerts, approvals, err := m.load()
	if err != nil {
		return fmt.Errorf("%w: reload: %v", ErrStorage, err)
	}
	m.alerts = alerts
	m.approvals = approvals
	return nil
}

func (m *MemoryStore) deactivate(idx int) (domain.Alert, error) {
	next := cloneAlerts(m.alerts)
	next[idx].Active = false
	if err := m.commitAlerts(next); err != nil {
		return domain.Alert{}, err
	}
	return next[idx], nil
}

func (m *MemoryStore) activeIndexes(owner domain.UserID) []int {
	var out []int
	for i, alert := range m.alerts {
		if alert.Active && alert.Owner == owner {
			out = append(out, i)
		}
	}
	return out
}

func (m *MemoryStore) approvalIndex(id domain.UserID) int {
	for i, approval := range m.approvals {
		if approval.ID == id {
			return i
		}
	}
	return -1
}

func (m *MemoryStore) commitAlerts(next []domain.Alert) error {
	if m.flushAlerts != nil {
		if err := m.flushAlerts(next); err != nil {
			return fmt.Errorf("%w: alerts: %v", ErrStorage, err)
		}
	}
	m.alerts = next
	return nil
}

func (m *MemoryStore) commitApprovals(next []domain.UserApproval) error {
	if m.flushApprovals != nil {
		if err := m.flushApprovals(next); err != nil {
			return fmt.Errorf("%w: approvals: %v", ErrStorage, err)
		}
	}
	m.approvals = next
	return nil
}

// cloneAlerts copies the slice and the pointer fields that mutations touch.
func cloneAlerts(in []domain.Alert) []domain.Alert {
	out := make([]domain.Alert, len(in))
	copy(out, in)
	for i := range out {
		if out[i].LastNotifiedAt != nil {
			t := *out[i].LastNotifiedAt
			out[i].LastNotifiedAt = &t
		}
	}
	return out
}

var _ Registry = (*MemoryStore)(nil)
