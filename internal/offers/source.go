package offers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fare-alerts/internal/domain"
)

var (
	// ErrUnavailable covers transport failures and unexpected provider answers.
	ErrUnavailable = errors.New("offers: source unavailable")
	// ErrUnauthorized marks credential problems; it is also an ErrUnavailable.
	ErrUnauthorized = fmt.Errorf("%w: unauthorized", ErrUnavailable)
	// ErrTimeout marks a query that hit its deadline.
	ErrTimeout = errors.New("offers: query timed out")
)

// Query is one origin/destination/date lookup.
type Query struct {
	Origin      string
	Destination string
	Date        time.Time
}

func (q Query) String() string {
	return fmt.Sprintf("%s-%s@%s", q.Origin, q.Destination, q.Date.Format("2006-01-02"))
}

// Source returns priced offers for a query. An empty slice with a nil error
// means the provider legitimately found nothing.
type Source interface {
	Query(ctx context.Context, q Query) ([]domain.Offer, error)
}
