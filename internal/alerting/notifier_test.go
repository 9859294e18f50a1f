package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fare-alerts/internal/domain"
	"fare-alerts/internal/messenger"
)

type recordingSender struct {
	to   []domain.UserID
	text []string
	err  error
}

func (r *recordingSender) SendMessage(ctx context.Context, to domain.UserID, text string, opts ...messenger.SendOption) error {
	if r.err != nil {
		return r.err
	}
	r.to = append(r.to, to)
	r.text = append(r.text, text)
	return nil
}

func testCatalog() *domain.Catalog {
	return domain.MustCatalog(domain.DefaultLocations)
}

func testDigest() Digest {
	alert := domain.Alert{
		ID:          "a1",
		Owner:       42,
		Origin:      "GRU",
		Destination: domain.AnyDestination,
		Date:        domain.FlexibleDate(),
		MaxPrice:    decimal.NewFromInt(600),
	}
	day := time.Date(2026, time.December, 24, 0, 0, 0, 0, time.UTC)
	offers := []domain.Offer{
		{Origin: "GRU", Destination: "SSA", Date: day, Price: decimal.NewFromInt(550), Currency: "BRL", Carrier: "LATAM", Stops: 0, Duration: 125 * time.Minute},
		{Origin: "GRU", Destination: "REC", Date: day, Price: decimal.NewFromInt(580), Currency: "BRL", Carrier: "GOL", Stops: 2},
	}
	return NewDigest(alert, offers, testCatalog())
}

func TestNotifierSendsOneMessage(t *testing.T) {
	sender := &recordingSender{}
	notifier := NewMessengerNotifier(sender, testCatalog(), "BRL", zerolog.Nop())

	if err := notifier.Send(context.Background(), 42, testDigest()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sender.text) != 1 || sender.to[0] != 42 {
		t.Fatalf("expected exactly one message to 42, got %v", sender.to)
	}
	text := sender.text[0]
	for _, want := range []string{"1. Salvador (SSA)", "BRL 550.00", "LATAM", "nonstop", "2h05", "2. Recife (REC)", "BRL 580.00", "2 stops"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message missing %q:\n%s", want, text)
		}
	}
	if strings.Index(text, "550.00") > strings.Index(text, "580.00") {
		t.Fatalf("entries out of order:\n%s", text)
	}
}

func TestNotifierWrapsDeliveryFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("chat not found")}
	notifier := NewMessengerNotifier(sender, testCatalog(), "BRL", zerolog.Nop())

	if err := notifier.Send(context.Background(), 42, testDigest()); !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
}

func TestDigestKeyIsStable(t *testing.T) {
	a, b := testDigest(), testDigest()
	if a.Key() != b.Key() {
		t.Fatal("identical digests must share a key")
	}
	b.Entries[1].Price = decimal.NewFromInt(579)
	if a.Key() == b.Key() {
		t.Fatal("different prices must change the key")
	}
	a.Manual = true
	if a.Key() != testDigest().Key() {
		t.Fatal("manual flag must not affect the key")
	}
}

func TestRenderOmitsUnknownDuration(t *testing.T) {
	text := Render(testDigest(), testCatalog(), "BRL")
	lines := strings.Split(text, "\n")
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, "2. Recife") || strings.Contains(last, "h0") {
		t.Fatalf("entry without duration should not show one: %q", last)
	}
}
