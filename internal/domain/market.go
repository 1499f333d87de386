package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies a trading venue.
type Venue string

const (
	VenueBinance Venue = "binance"
	VenueBybit   Venue = "bybit"
	VenueBitget  Venue = "bitget"
)

// ParseVenue maps a configured name to a supported venue.
func ParseVenue(name string) (Venue, error) {
	switch v := Venue(strings.ToLower(strings.TrimSpace(name))); v {
	case VenueBinance, VenueBybit, VenueBitget:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVenue, name)
}

// Channel is the kind of socket a venue exposes.
type Channel string

const (
	ChannelMarket  Channel = "market"
	ChannelAccount Channel = "account"
)

// Pair is the traded asset pair, e.g. TUSD/USDT.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// Symbol returns the concatenated exchange symbol (TUSDUSDT).
func (p Pair) Symbol() string {
	return p.Base + p.Quote
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Level is one price level of a book side.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Valid reports whether the level carries a positive price and size.
func (l Level) Valid() bool {
	return l.Price.IsPositive() && l.Size.IsPositive()
}

// TopLevel returns the first level with a positive size.
func TopLevel(levels []Level) (Level, bool) {
	for _, l := range levels {
		if l.Valid() {
			return l, true
		}
	}
	return Level{}, false
}

// BookUpdate is a decoded top-of-book message. A nil side means the
// message did not carry a usable level for it.
type BookUpdate struct {
	Symbol string
	Bid    *Level
	Ask    *Level
}

// Empty reports whether neither side carried a usable level.
func (u BookUpdate) Empty() bool {
	return u.Bid == nil && u.Ask == nil
}

// Quote is the latest best bid/ask with sizes for one (venue, symbol).
type Quote struct {
	Venue       Venue           `json:"venue"`
	Symbol      string          `json:"symbol"`
	BestBid     decimal.Decimal `json:"best_bid"`
	BestBidSize decimal.Decimal `json:"best_bid_size"`
	BestAsk     decimal.Decimal `json:"best_ask"`
	BestAskSize decimal.Decimal `json:"best_ask_size"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// Complete reports whether both sides are known.
func (q Quote) Complete() bool {
	return q.BestBid.IsPositive() && q.BestAsk.IsPositive() &&
		q.BestBidSize.IsPositive() && q.BestAskSize.IsPositive()
}

// IsFresh reports now - ObservedAt < window.
func (q Quote) IsFresh(now time.Time, window time.Duration) bool {
	if q.ObservedAt.IsZero() {
		return false
	}
	return now.Sub(q.ObservedAt) < window
}

// Apply merges an update into the quote and stamps it.
func (q *Quote) Apply(u BookUpdate, at time.Time) {
	if u.Bid != nil {
		q.BestBid = u.Bid.Price
		q.BestBidSize = u.Bid.Size
	}
	if u.Ask != nil {
		q.BestAsk = u.Ask.Price
		q.BestAskSize = u.Ask.Size
	}
	q.ObservedAt = at
}
