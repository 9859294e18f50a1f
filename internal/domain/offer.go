package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offer is one priced result for an origin/destination/date query.
type Offer struct {
	Origin      string
	Destination string
	Date        time.Time
	Price       decimal.Decimal
	Currency    string
	Carrier     string
	Stops       int
	DepartsAt   string
	Duration    time.Duration
}
