package access

import (
	"context"
	"errors"
	"testing"

	"fare-alerts/internal/domain"
	"fare-alerts/internal/storage"
)

func TestAuthorizeFollowsApprovalLifecycle(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(1)
	gate := NewGate(store, 1)

	if d, err := gate.Authorize(ctx, 42); err != nil || d != Unknown {
		t.Fatalf("unregistered identity should be Unknown, got %v %v", d, err)
	}

	if _, err := store.Register(ctx, 42, "ana"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if d, _ := gate.Authorize(ctx, 42); d != Pending {
		t.Fatalf("expected Pending, got %v", d)
	}

	if _, err := store.Deny(ctx, 42); err != nil {
		t.Fatalf("deny: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.Register(ctx, 42, "ana"); err != nil {
			t.Fatalf("register: %v", err)
		}
		if d, _ := gate.Authorize(ctx, 42); d != Denied {
			t.Fatalf("denied identity must stay denied, got %v", d)
		}
	}

	if _, err := store.Approve(ctx, 42); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if d, _ := gate.Authorize(ctx, 42); d != Allowed {
		t.Fatalf("expected Allowed after manual approval, got %v", d)
	}
}

func TestAuthorizeAdmin(t *testing.T) {
	gate := NewGate(storage.NewMemoryStore(7), 7)
	if d, err := gate.Authorize(context.Background(), 7); err != nil || d != Allowed {
		t.Fatalf("admin should be Allowed, got %v %v", d, err)
	}
	if !gate.IsAdmin(7) || gate.IsAdmin(8) {
		t.Fatal("IsAdmin mismatch")
	}
}

func TestDecisionErr(t *testing.T) {
	cases := map[Decision]error{
		Allowed: nil,
		Pending: ErrPending,
		Denied:  ErrDenied,
		Unknown: ErrUnregistered,
	}
	for decision, want := range cases {
		if got := decision.Err(); !errors.Is(got, want) || (want == nil && got != nil) {
			t.Fatalf("%v.Err() = %v, want %v", decision, got, want)
		}
	}
}

type failingApprovals struct {
	storage.ApprovalRegistry
}

func (failingApprovals) Lookup(context.Context, domain.UserID) (domain.UserApproval, bool, error) {
	return domain.UserApproval{}, false, storage.ErrStorage
}

func TestAuthorizePropagatesStorageErrors(t *testing.T) {
	gate := NewGate(failingApprovals{}, 1)
	if _, err := gate.Authorize(context.Background(), 2); !errors.Is(err, storage.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}
