package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AnyDestination is the destination sentinel meaning "every known location except the origin".
const AnyDestination = "ANY"

const dateLayout = "2006-01-02"

// UserID is the opaque identity handed to us by the messaging transport.
type UserID int64

// AlertID is the stable identifier assigned to an alert when it is stored.
type AlertID string

// TravelDate is either a calendar day or the flexible window sentinel.
type TravelDate struct {
	Day      time.Time
	Flexible bool
}

// FlexibleDate returns the flexible window sentinel.
func FlexibleDate() TravelDate {
	return TravelDate{Flexible: true}
}

// DateOn normalises t to a civil date at midnight UTC.
func DateOn(year int, month time.Month, day int) TravelDate {
	return TravelDate{Day: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// IsZero reports whether neither a day nor the flexible flag is set.
func (d TravelDate) IsZero() bool {
	return !d.Flexible && d.Day.IsZero()
}

func (d TravelDate) String() string {
	if d.Flexible {
		return "flexible"
	}
	if d.Day.IsZero() {
		return ""
	}
	return d.Day.Format(dateLayout)
}

// Display renders the date the way users typed it.
func (d TravelDate) Display() string {
	if d.Flexible {
		return "flexible dates"
	}
	return d.Day.Format("02/01/2006")
}

// ParseTravelDate is the inverse of String.
func ParseTravelDate(s string) (TravelDate, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "flexible") {
		return FlexibleDate(), nil
	}
	day, err := time.Parse(dateLayout, s)
	if err != nil {
		return TravelDate{}, fmt.Errorf("parse travel date %q: %w", s, err)
	}
	return TravelDate{Day: day}, nil
}

func (d TravelDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *TravelDate) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTravelDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Alert is one standing watch owned by a single identity.
type Alert struct {
	ID             AlertID         `json:"id"`
	Owner          UserID          `json:"owner"`
	Origin         string          `json:"origin"`
	Destination    string          `json:"destination"`
	Date           TravelDate      `json:"date"`
	MaxPrice       decimal.Decimal `json:"max_price"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	LastNotifiedAt *time.Time      `json:"last_notified_at,omitempty"`
	LastDigestKey  string          `json:"last_digest_key,omitempty"`
}

// AnyDestination reports whether the alert watches every destination.
func (a Alert) AnyDestination() bool {
	return a.Destination == AnyDestination
}

// Validate checks the alert invariants against the location catalog.
func (a Alert) Validate(catalog *Catalog) error {
	if !a.MaxPrice.IsPositive() {
		return fmt.Errorf("%w: price ceiling must be positive", ErrInvalidAlert)
	}
	if !catalog.Known(a.Origin) {
		return fmt.Errorf("%w: unknown origin %q", ErrInvalidAlert, a.Origin)
	}
	if a.Destination != AnyDestination {
		if !catalog.Known(a.Destination) {
			return fmt.Errorf("%w: unknown destination %q", ErrInvalidAlert, a.Destination)
		}
		if a.Destination == a.Origin {
			return fmt.Errorf("%w: destination equals origin", ErrInvalidAlert)
		}
	}
	if a.Date.IsZero() {
		return fmt.Errorf("%w: missing travel date", ErrInvalidAlert)
	}
	return nil
}

// Summary is a one-line human description used in listings and confirmations.
func (a Alert) Summary(catalog *Catalog, currency string) string {
	dest := "any destination"
	if !a.AnyDestination() {
		dest = catalog.Label(a.Destination)
	}
	return fmt.Sprintf("%s → %s, %s, up to %s %s",
		catalog.Label(a.Origin), dest, a.Date.Display(), currency, a.MaxPrice.StringFixed(2))
}
