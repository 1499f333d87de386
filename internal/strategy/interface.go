package strategy

import (
	"time"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Strategy is the interface that all detection strategies must implement.
// It is called synchronously by the Sequencer after every quote write.
type Strategy interface {
	// Evaluate runs one pass over all routes. idle reports whether the
	// execution coordinator can accept a new opportunity; when it cannot,
	// statistics are still updated but nothing is returned.
	Evaluate(now time.Time, idle bool) (domain.Opportunity, bool)
}

// QuoteReader is the read side of the price feed aggregator.
type QuoteReader interface {
	Quote(venue domain.Venue) (domain.Quote, bool)
}

// BalanceReader is the read side of the balance tracker.
type BalanceReader interface {
	Available(venue domain.Venue, asset string) decimal.Decimal
	IsVenueTradable(venue domain.Venue) bool
}
