package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fare-alerts/internal/access"
	"fare-alerts/internal/alerting"
	"fare-alerts/internal/conversation"
	"fare-alerts/internal/domain"
	"fare-alerts/internal/messenger"
	"fare-alerts/internal/offers"
	"fare-alerts/internal/service"
	"fare-alerts/internal/storage"
)

const (
	adminID domain.UserID = 1
	userID  domain.UserID = 42
)

type sentMessage struct {
	to      domain.UserID
	text    string
	choices []messenger.Choice
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeSender) SendMessage(ctx context.Context, to domain.UserID, text string, opts ...messenger.SendOption) error {
	o := messenger.ApplyOptions(opts...)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, text: text, choices: o.Choices})
	return nil
}

func (f *fakeSender) lastTo(id domain.UserID) sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].to == id {
			return f.sent[i]
		}
	}
	return sentMessage{}
}

func (f *fakeSender) countTo(id domain.UserID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.to == id {
			n++
		}
	}
	return n
}

type fakeChecker struct {
	results []service.CheckResult
	err     error
}

func (f fakeChecker) CheckOwner(ctx context.Context, owner domain.UserID) ([]service.CheckResult, error) {
	return f.results, f.err
}

type harness struct {
	bot    *Bot
	sender *fakeSender
	store  *storage.MemoryStore
	conv   *conversation.Engine
}

func newHarness(t *testing.T, checker Checker) *harness {
	t.Helper()
	store := storage.NewMemoryStore(adminID)
	gate := access.NewGate(store, adminID)
	catalog := domain.MustCatalog(domain.DefaultLocations)
	now := time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)
	conv := conversation.NewEngine(conversation.Options{
		Catalog:        catalog,
		Alerts:         store,
		Gate:           gate,
		AskDestination: true,
		SessionTTL:     time.Hour,
		Location:       time.UTC,
		Currency:       "BRL",
		Now:            func() time.Time { return now },
	}, zerolog.Nop())
	if checker == nil {
		checker = fakeChecker{}
	}
	sender := &fakeSender{}
	b := New(Deps{
		Sender:       sender,
		Registry:     store,
		Gate:         gate,
		Conversation: conv,
		Checker:      checker,
		Catalog:      catalog,
		Currency:     "BRL",
	}, zerolog.Nop())
	return &harness{bot: b, sender: sender, store: store, conv: conv}
}

func (h *harness) command(from domain.UserID, name, args string) {
	handler := h.bot.commands()[name]
	handler(context.Background(), messenger.Event{Kind: messenger.CommandEvent, From: from, DisplayName: "user", Command: name, Args: args})
}

func (h *harness) text(from domain.UserID, text string) {
	h.bot.handleText(context.Background(), messenger.Event{Kind: messenger.TextEvent, From: from, Text: text})
}

func (h *harness) selection(from domain.UserID, data string) {
	h.bot.handleSelection(context.Background(), messenger.Event{Kind: messenger.SelectionEvent, From: from, Data: data})
}

func (h *harness) approve(t *testing.T, id domain.UserID) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.store.Register(ctx, id, "user"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := h.store.Approve(ctx, id); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func TestUnknownIdentityIsRegisteredWithoutSession(t *testing.T) {
	h := newHarness(t, nil)

	h.command(userID, "newalert", "")

	approval, ok, err := h.store.Lookup(context.Background(), userID)
	if err != nil || !ok || approval.Status != domain.ApprovalPending {
		t.Fatalf("expected pending approval, got %#v %v %v", approval, ok, err)
	}
	if h.conv.Active(userID) {
		t.Fatal("no conversation may start for an unknown identity")
	}
	if msg := h.sender.lastTo(userID); !strings.Contains(msg.text, "access request was sent") {
		t.Fatalf("expected registration prompt, got %q", msg.text)
	}

	adminMsg := h.sender.lastTo(adminID)
	if len(adminMsg.choices) != 2 || adminMsg.choices[0].Data != "ap:42" || adminMsg.choices[1].Data != "dn:42" {
		t.Fatalf("admin should get approve/deny choices, got %#v", adminMsg)
	}

	h.command(userID, "newalert", "")
	if msg := h.sender.lastTo(userID); !strings.Contains(msg.text, "waiting") {
		t.Fatalf("second attempt should report pending, got %q", msg.text)
	}
	if h.sender.countTo(adminID) != 1 {
		t.Fatal("admin must be notified only once")
	}
}

func TestDeniedIdentityStaysDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.command(userID, "start", "")
	h.selection(adminID, "dn:42")

	if msg := h.sender.lastTo(userID); !strings.Contains(msg.text, "denied") {
		t.Fatalf("user should be told about the denial, got %q", msg.text)
	}

	for i := 0; i < 2; i++ {
		h.command(userID, "start", "")
		h.command(userID, "newalert", "")
		if msg := h.sender.lastTo(userID); !strings.Contains(msg.text, "denied") {
			t.Fatalf("expected denial message, got %q", msg.text)
		}
	}
	if d, _ := h.bot.Gate.Authorize(context.Background(), userID); d != access.Denied {
		t.Fatalf("expected Denied, got %v", d)
	}
	if pending, _ := h.store.ListPending(context.Background()); len(pending) != 0 {
		t.Fatalf("denied identity must not return to pending: %#v", pending)
	}
}

func TestCreateListAndRemoveAlert(t *testing.T) {
	h := newHarness(t, nil)
	h.approve(t, userID)

	h.command(userID, "newalert", "")
	prompt := h.sender.lastTo(userID)
	if len(prompt.choices) == 0 || !strings.HasPrefix(prompt.choices[0].Data, "conv:") {
		t.Fatalf("origin prompt should carry conversation choices: %#v", prompt)
	}

	h.selection(userID, "conv:GRU")
	h.selection(userID, "conv:ANY")
	h.selection(userID, "conv:FLEX")
	h.text(userID, "R$ 600")

	if msg := h.sender.lastTo(userID); !strings.HasPrefix(msg.text, "Alert created") {
		t.Fatalf("expected confirmation, got %q", msg.text)
	}
	alerts, _ := h.store.ListActive(context.Background(), userID)
	if len(alerts) != 1 || !alerts[0].AnyDestination() || !alerts[0].MaxPrice.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("unexpected alerts: %#v", alerts)
	}

	h.command(userID, "alerts", "")
	listing := h.sender.lastTo(userID)
	if !strings.Contains(listing.text, "1. ") || len(listing.choices) != 1 || listing.choices[0].Data != "rm:"+string(alerts[0].ID) {
		t.Fatalf("unexpected listing: %#v", listing)
	}

	h.selection(userID, listing.choices[0].Data)
	if msg := h.sender.lastTo(userID); !strings.HasPrefix(msg.text, "Removed") {
		t.Fatalf("expected removal confirmation, got %q", msg.text)
	}
	h.selection(userID, listing.choices[0].Data)
	if msg := h.sender.lastTo(userID); !strings.Contains(msg.text, "already removed") {
		t.Fatalf("second click should be harmless, got %q", msg.text)
	}
}

func TestRemoveByPosition(t *testing.T) {
	h := newHarness(t, nil)
	h.approve(t, userID)
	ctx := context.Background()
	for _, dest := range []string{"GIG", "SSA"} {
		if _, err := h.store.AddAlert(ctx, domain.Alert{Owner: userID, Origin: "GRU", Destination: dest, Date: domain.FlexibleDate(), MaxPrice: decimal.NewFromInt(500)}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	h.command(userID, "remove", "5")
	if msg := h.sender.lastTo(userID); !strings.Contains(msg.text, "no alert with that number") {
		t.Fatalf("expected out of range message, got %q", msg.text)
	}
	h.command(userID, "remove", "abc")
	if msg := h.sender.lastTo(userID); !strings.HasPrefix(msg.text, "Usage") {
		t.Fatalf("expected usage, got %q", msg.text)
	}

	h.command(userID, "remove", "2")
	left, _ := h.store.ListActive(ctx, userID)
	if len(left) != 1 || left[0].Destination != "GIG" {
		t.Fatalf("wrong alert removed: %#v", left)
	}
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	h := newHarness(t, nil)
	h.approve(t, userID)
	if _, err := h.store.Register(context.Background(), 77, "other"); err != nil {
		t.Fatalf("register: %v", err)
	}

	h.command(userID, "approve", "77")
	if msg := h.sender.lastTo(userID); !strings.Contains(msg.text, "Only the administrator") {
		t.Fatalf("expected refusal, got %q", msg.text)
	}
	if ok, _ := h.store.IsApproved(context.Background(), 77); ok {
		t.Fatal("non-admin must not approve")
	}

	h.command(adminID, "pending", "")
	if msg := h.sender.lastTo(adminID); !strings.Contains(msg.text, "77: other") {
		t.Fatalf("pending list missing entry: %q", msg.text)
	}

	h.command(adminID, "approve", "77")
	if ok, _ := h.store.IsApproved(context.Background(), 77); !ok {
		t.Fatal("admin approval did not stick")
	}
	if msg := h.sender.lastTo(77); !strings.Contains(msg.text, "approved") {
		t.Fatalf("approved user should be told, got %q", msg.text)
	}

	h.command(adminID, "deny", "999")
	if msg := h.sender.lastTo(adminID); !strings.Contains(msg.text, "no longer exists") {
		t.Fatalf("unknown identity should be reported, got %q", msg.text)
	}
}

func TestCheckReportsEachAlert(t *testing.T) {
	alert := domain.Alert{ID: "a", Owner: userID, Origin: "GRU", Destination: "SSA", Date: domain.FlexibleDate(), MaxPrice: decimal.NewFromInt(600)}
	digest := alerting.NewDigest(alert, []domain.Offer{{Destination: "SSA", Date: time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC), Price: decimal.NewFromInt(550), Currency: "BRL", Carrier: "Azul"}}, domain.MustCatalog(domain.DefaultLocations))
	digest.Manual = true

	checker := fakeChecker{results: []service.CheckResult{
		{Alert: alert, Digest: digest},
		{Alert: alert, Digest: alerting.Digest{Alert: alert}},
		{Alert: alert, Err: offers.ErrUnavailable},
	}}
	h := newHarness(t, checker)
	h.approve(t, userID)

	h.command(userID, "check", "")
	h.sender.mu.Lock()
	defer h.sender.mu.Unlock()
	var texts []string
	for _, m := range h.sender.sent {
		if m.to == userID {
			texts = append(texts, m.text)
		}
	}
	if len(texts) != 4 {
		t.Fatalf("expected progress + 3 results, got %d: %v", len(texts), texts)
	}
	if !strings.Contains(texts[1], "BRL 550.00") || !strings.Contains(texts[2], "No offer found") || !strings.Contains(texts[3], "unavailable") {
		t.Fatalf("unexpected check output: %v", texts)
	}
}

func TestFreeTextWithoutSession(t *testing.T) {
	h := newHarness(t, nil)
	h.approve(t, userID)
	h.text(userID, "hello")
	if msg := h.sender.lastTo(userID); !strings.Contains(msg.text, "/newalert") {
		t.Fatalf("expected hint, got %q", msg.text)
	}
	h.selection(userID, "conv:GRU")
	if msg := h.sender.lastTo(userID); !strings.Contains(msg.text, "expired") {
		t.Fatalf("expected expired menu message, got %q", msg.text)
	}
}

func TestErrorMessageMapping(t *testing.T) {
	h := newHarness(t, nil)
	cases := map[error]string{
		access.ErrPending:         "waiting",
		access.ErrDenied:          "denied",
		access.ErrUnregistered:    "/start",
		storage.ErrOutOfRange:     "no alert with that number",
		storage.ErrStorage:        "could not save",
		offers.ErrTimeout:         "too long",
		offers.ErrUnauthorized:    "provider settings",
		offers.ErrUnavailable:     "unavailable",
		conversation.ErrNoSession: "/newalert",
		errors.New("boom"):        "Something went wrong",
	}
	for err, want := range cases {
		if got := h.bot.errorMessage(err); !strings.Contains(got, want) {
			t.Fatalf("errorMessage(%v) = %q, want substring %q", err, got, want)
		}
	}

	verr := &conversation.ValidationError{Field: "price", Reason: "Bad price."}
	if got := h.bot.errorMessage(fmt.Errorf("step: %w", verr)); got != "Bad price." {
		t.Fatalf("validation reason not surfaced: %q", got)
	}
}
