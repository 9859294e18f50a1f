package alerting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fare-alerts/internal/domain"
	"fare-alerts/internal/logging"
	"fare-alerts/internal/messenger"
)

// ErrDelivery wraps failures to hand a digest to the transport.
var ErrDelivery = errors.New("alerting: delivery failed")

// Entry is one ranked offer in a digest.
type Entry struct {
	Rank            int
	Destination     string
	DestinationName string
	Date            string
	Price           decimal.Decimal
	Currency        string
	Carrier         string
	Stops           int
	DepartsAt       string
	Duration        time.Duration
}

// Digest is the top-N summary for one alert.
type Digest struct {
	Alert   domain.Alert
	Entries []Entry
	Manual  bool
}

// NewDigest ranks offers (already filtered and sorted) into entries.
func NewDigest(alert domain.Alert, offers []domain.Offer, catalog *domain.Catalog) Digest {
	entries := make([]Entry, 0, len(offers))
	for i, offer := range offers {
		name := offer.Destination
		if loc, ok := catalog.Lookup(offer.Destination); ok {
			name = loc.Name
		}
		entries = append(entries, Entry{
			Rank:            i + 1,
			Destination:     offer.Destination,
			DestinationName: name,
			Date:            offer.Date.Format("02/01/2006"),
			Price:           offer.Price,
			Currency:        offer.Currency,
			Carrier:         offer.Carrier,
			Stops:           offer.Stops,
			DepartsAt:       offer.DepartsAt,
		})
	}
	return Digest{Alert: alert, Entries: entries}
}

// Key fingerprints the entry set; equal keys mean the same offers were found.
func (d Digest) Key() string {
	h := sha256.New()
	for _, e := range d.Entries {
		fmt.Fprintf(h, "%s|%s|%s|%s|%d\n", e.Destination, e.Date, e.Price.StringFixed(2), e.Carrier, e.Stops)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Notifier delivers digests to alert owners.
type Notifier interface {
	Send(ctx context.Context, owner domain.UserID, digest Digest) error
}

// MessengerNotifier renders digests as plain text and sends them through a messenger.
type MessengerNotifier struct {
	sender   messenger.Sender
	catalog  *domain.Catalog
	currency string
	logger   zerolog.Logger
}

// NewMessengerNotifier constructs the notifier.
func NewMessengerNotifier(sender messenger.Sender, catalog *domain.Catalog, currency string, logger zerolog.Logger) *MessengerNotifier {
	return &MessengerNotifier{
		sender:   sender,
		catalog:  catalog,
		currency: currency,
		logger:   logging.Component(logger, "notifier"),
	}
}

// Send emits exactly one message; it does not retry.
func (n *MessengerNotifier) Send(ctx context.Context, owner domain.UserID, digest Digest) error {
	if err := n.sender.SendMessage(ctx, owner, Render(digest, n.catalog, n.currency)); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	n.logger.Info().
		Int64("owner", int64(owner)).
		Str("alert_id", string(digest.Alert.ID)).
		Int("entries", len(digest.Entries)).
		Bool("manual", digest.Manual).
		Msg("digest delivered")
	return nil
}

// Render formats a digest for a chat message.
func Render(d Digest, catalog *domain.Catalog, currency string) string {
	var b strings.Builder
	if d.Manual {
		b.WriteString("Current fares for your alert\n")
	} else {
		b.WriteString("Fares below your price found!\n")
	}
	b.WriteString(d.Alert.Summary(catalog, currency))
	b.WriteString("\n\n")

	for _, e := range d.Entries {
		cur := e.Currency
		if cur == "" {
			cur = currency
		}
		b.WriteString(fmt.Sprintf("%d. %s (%s), %s: %s %s", e.Rank, e.DestinationName, e.Destination, e.Date, cur, e.Price.StringFixed(2)))
		if e.Carrier != "" {
			b.WriteString(" with " + e.Carrier)
		}
		b.WriteString(", " + stopsLabel(e.Stops))
		if e.DepartsAt != "" {
			b.WriteString(", departs " + e.DepartsAt)
		}
		if e.Duration > 0 {
			b.WriteString(", " + durationLabel(e.Duration))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func durationLabel(d time.Duration) string {
	d = d.Round(time.Minute)
	return fmt.Sprintf("%dh%02d", int(d.Hours()), int(d.Minutes())%60)
}

func stopsLabel(stops int) string {
	switch stops {
	case 0:
		return "nonstop"
	case 1:
		return "1 stop"
	default:
		return fmt.Sprintf("%d stops", stops)
	}
}

var _ Notifier = (*MessengerNotifier)(nil)
