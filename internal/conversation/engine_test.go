package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fare-alerts/internal/access"
	"fare-alerts/internal/domain"
	"fare-alerts/internal/storage"
)

const (
	admin domain.UserID = 1
	user  domain.UserID = 42
)

type harness struct {
	engine *Engine
	store  *storage.MemoryStore
	now    time.Time
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		store: storage.NewMemoryStore(admin),
		now:   time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC),
	}
	if _, err := h.store.Register(ctx, user, "carla"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := h.store.Approve(ctx, user); err != nil {
		t.Fatalf("approve: %v", err)
	}

	opts := Options{
		Catalog:        domain.MustCatalog(domain.DefaultLocations),
		Alerts:         h.store,
		Gate:           access.NewGate(h.store, admin),
		AskDestination: true,
		SessionTTL:     30 * time.Minute,
		Location:       time.UTC,
		Currency:       "BRL",
		Now:            func() time.Time { return h.now },
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.engine = NewEngine(opts, zerolog.Nop())
	return h
}

func (h *harness) feed(t *testing.T, owner domain.UserID, inputs ...string) Reply {
	t.Helper()
	var reply Reply
	for _, input := range inputs {
		var err error
		reply, err = h.engine.Handle(context.Background(), owner, input)
		if err != nil {
			t.Fatalf("handle %q: %v", input, err)
		}
	}
	return reply
}

func (h *harness) alerts(t *testing.T) []domain.Alert {
	t.Helper()
	all, err := h.store.ListAllActive(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return all
}

func TestConversationCreatesExactlyOneAlert(t *testing.T) {
	h := newHarness(t, nil)

	reply, err := h.engine.Start(context.Background(), user)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if reply.State != AwaitingOrigin || len(reply.Choices) != len(domain.DefaultLocations) {
		t.Fatalf("unexpected origin prompt: %#v", reply)
	}

	reply = h.feed(t, user, "gru")
	if reply.State != AwaitingDestination {
		t.Fatalf("expected destination step, got %v", reply.State)
	}
	if len(reply.Choices) != len(domain.DefaultLocations) {
		t.Fatalf("destination choices should be catalog minus origin plus any: %d", len(reply.Choices))
	}
	for _, c := range reply.Choices {
		if c.Value == "GRU" {
			t.Fatal("origin must not be offered as destination")
		}
	}

	reply = h.feed(t, user, "SSA", "24/12/2026", "R$ 1.200,50")
	if !reply.Done || reply.State != Complete || reply.Alert == nil {
		t.Fatalf("expected completion, got %#v", reply)
	}
	if h.engine.Active(user) {
		t.Fatal("session must be cleared after completion")
	}

	all := h.alerts(t)
	if len(all) != 1 {
		t.Fatalf("expected one alert, got %d", len(all))
	}
	got := all[0]
	if got.Owner != user || got.Origin != "GRU" || got.Destination != "SSA" ||
		got.Date.String() != "2026-12-24" || got.MaxPrice.String() != "1200.5" || !got.Active {
		t.Fatalf("alert fields mismatch: %#v", got)
	}
	if got.ID != reply.Alert.ID {
		t.Fatalf("reply should carry stored id")
	}
}

func TestConversationInvalidInputDoesNotAdvance(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.engine.Start(context.Background(), user); err != nil {
		t.Fatalf("start: %v", err)
	}

	steps := []struct {
		bad   []string
		good  string
		state State
	}{
		{bad: []string{"XXX", "", "ANY"}, good: "GRU", state: AwaitingOrigin},
		{bad: []string{"GRU", "ZZZ"}, good: "ANY", state: AwaitingDestination},
		{bad: []string{"15/10/2026", "32/01/2027", "soon"}, good: "FLEX", state: AwaitingDate},
		{bad: []string{"free", "0", "-5"}, good: "600", state: AwaitingPrice},
	}
	for _, step := range steps {
		for _, input := range step.bad {
			reply := h.feed(t, user, input)
			var verr *ValidationError
			if !errors.As(reply.Err, &verr) {
				t.Fatalf("input %q at %v should yield ValidationError, got %v", input, step.state, reply.Err)
			}
			if state, _ := h.engine.State(user); state != step.state {
				t.Fatalf("input %q moved state from %v to %v", input, step.state, state)
			}
			if n := len(h.alerts(t)); n != 0 {
				t.Fatalf("invalid input created %d alerts", n)
			}
		}
		h.feed(t, user, step.good)
	}

	all := h.alerts(t)
	if len(all) != 1 || !all[0].AnyDestination() || !all[0].Date.Flexible {
		t.Fatalf("expected one ANY/flexible alert, got %#v", all)
	}
}

func TestConversationCancelFromEveryState(t *testing.T) {
	prefixes := [][]string{
		{},
		{"GRU"},
		{"GRU", "GIG"},
		{"GRU", "GIG", "24/12/2026"},
	}
	for _, prefix := range prefixes {
		h := newHarness(t, nil)
		if _, err := h.engine.Start(context.Background(), user); err != nil {
			t.Fatalf("start: %v", err)
		}
		h.feed(t, user, prefix...)

		reply := h.feed(t, user, "cancel")
		if reply.State != Cancelled {
			t.Fatalf("expected Cancelled after %v, got %v", prefix, reply.State)
		}
		if h.engine.Active(user) {
			t.Fatalf("session survived cancel after %v", prefix)
		}
		if n := len(h.alerts(t)); n != 0 {
			t.Fatalf("cancel after %v created %d alerts", prefix, n)
		}
		if _, err := h.engine.Handle(context.Background(), user, "600"); !errors.Is(err, ErrNoSession) {
			t.Fatalf("expected ErrNoSession after cancel, got %v", err)
		}
	}
}

func TestConversationStartRequiresAccess(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.engine.Start(ctx, 99); !errors.Is(err, access.ErrUnregistered) {
		t.Fatalf("unknown identity should get ErrUnregistered, got %v", err)
	}
	if h.engine.Active(99) {
		t.Fatal("no session may be created for an unknown identity")
	}

	if _, err := h.store.Register(ctx, 99, "x"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := h.engine.Start(ctx, 99); !errors.Is(err, access.ErrPending) {
		t.Fatalf("pending identity should get ErrPending, got %v", err)
	}
	if _, err := h.store.Deny(ctx, 99); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if _, err := h.engine.Start(ctx, 99); !errors.Is(err, access.ErrDenied) {
		t.Fatalf("denied identity should get ErrDenied, got %v", err)
	}
	if h.engine.Active(99) {
		t.Fatal("no session may be created for a gated identity")
	}
}

func TestConversationRestartDiscardsProgress(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.engine.Start(ctx, user); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.feed(t, user, "GRU", "GIG")

	if _, err := h.engine.Start(ctx, user); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if state, _ := h.engine.State(user); state != AwaitingOrigin {
		t.Fatalf("restart should reset to origin, got %v", state)
	}
	h.feed(t, user, "BSB", "REC", "FLEX", "700")

	all := h.alerts(t)
	if len(all) != 1 || all[0].Origin != "BSB" || all[0].Destination != "REC" {
		t.Fatalf("expected only the restarted alert, got %#v", all)
	}
}

func TestConversationWithoutDestinationStep(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AskDestination = false })
	if _, err := h.engine.Start(context.Background(), user); err != nil {
		t.Fatalf("start: %v", err)
	}
	reply := h.feed(t, user, "POA")
	if reply.State != AwaitingDate {
		t.Fatalf("destination step should be skipped, got %v", reply.State)
	}
	h.feed(t, user, "01/01/2027", "450")

	all := h.alerts(t)
	if len(all) != 1 || all[0].Destination != domain.AnyDestination {
		t.Fatalf("expected implicit ANY destination, got %#v", all)
	}
}

func TestConversationSessionExpires(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.engine.Start(context.Background(), user); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.feed(t, user, "GRU")

	h.now = h.now.Add(31 * time.Minute)
	if h.engine.Active(user) {
		t.Fatal("session should have expired")
	}
	if _, err := h.engine.Handle(context.Background(), user, "GIG"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

type failingAlerts struct {
	storage.AlertRegistry
}

func (failingAlerts) AddAlert(context.Context, domain.Alert) (domain.AlertID, error) {
	return "", storage.ErrStorage
}

func TestConversationStorageFailureKeepsPriceStep(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Alerts = failingAlerts{} })
	ctx := context.Background()
	if _, err := h.engine.Start(ctx, user); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.feed(t, user, "GRU", "GIG", "FLEX")

	if _, err := h.engine.Handle(ctx, user, "500"); !errors.Is(err, storage.ErrStorage) {
		t.Fatalf("storage failure must propagate, got %v", err)
	}
	if state, ok := h.engine.State(user); !ok || state != AwaitingPrice {
		t.Fatalf("session should stay at price step, got %v %v", state, ok)
	}
}

func TestConversationDeniedMidFlowSavesNothing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.engine.Start(ctx, user); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.feed(t, user, "GRU", "GIG", "FLEX")

	if _, err := h.store.Deny(ctx, user); err != nil {
		t.Fatalf("deny: %v", err)
	}

	if _, err := h.engine.Handle(ctx, user, "500"); !errors.Is(err, access.ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
	if h.engine.Active(user) {
		t.Fatal("session must be dropped once access is revoked")
	}
	if all := h.alerts(t); len(all) != 0 {
		t.Fatalf("no alert may be stored after denial, got %#v", all)
	}
	if _, err := h.engine.Handle(ctx, user, "500"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession afterwards, got %v", err)
	}
}
