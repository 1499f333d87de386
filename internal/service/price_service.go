package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"arbitrage_go/internal/domain"
)

// QuoteBook aggregates top-of-book quotes per venue for one symbol.
// Writes come from the sequencer goroutine; reads may come from anywhere.
type QuoteBook struct {
	mu       sync.RWMutex
	symbol   string
	quotes   map[domain.Venue]*domain.Quote
	decoders map[domain.Venue]domain.MarketDecoder

	// onQuote is invoked synchronously after every write, outside the lock.
	onQuote func(domain.Quote)

	logger *slog.Logger
}

// NewQuoteBook creates an empty book for symbol.
func NewQuoteBook(symbol string) *QuoteBook {
	return &QuoteBook{
		symbol:   symbol,
		quotes:   make(map[domain.Venue]*domain.Quote),
		decoders: make(map[domain.Venue]domain.MarketDecoder),
		logger:   slog.Default().With("module", "quote_book"),
	}
}

// RegisterDecoder installs the wire decoder for a venue.
func (b *QuoteBook) RegisterDecoder(venue domain.Venue, dec domain.MarketDecoder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decoders[venue] = dec
}

// OnQuote sets the listener invoked after each quote write.
func (b *QuoteBook) OnQuote(fn func(domain.Quote)) {
	b.onQuote = fn
}

// OnMarketMessage decodes a raw venue frame and applies it. It reports
// whether a quote was written.
func (b *QuoteBook) OnMarketMessage(venue domain.Venue, raw []byte, at time.Time) bool {
	b.mu.RLock()
	dec, ok := b.decoders[venue]
	b.mu.RUnlock()
	if !ok {
		b.logger.Warn("No decoder for venue", slog.String("venue", string(venue)))
		return false
	}

	update, ok := dec.DecodeMarket(raw)
	if !ok {
		return false
	}
	return b.Apply(venue, update, at)
}

// Apply merges a decoded update. Updates without any usable level are
// dropped: nothing is written and the listener is not called.
func (b *QuoteBook) Apply(venue domain.Venue, update domain.BookUpdate, at time.Time) bool {
	if update.Bid != nil && !update.Bid.Valid() {
		update.Bid = nil
	}
	if update.Ask != nil && !update.Ask.Valid() {
		update.Ask = nil
	}
	if update.Empty() {
		return false
	}

	b.mu.Lock()
	q, ok := b.quotes[venue]
	if !ok {
		q = &domain.Quote{Venue: venue, Symbol: b.symbol}
		b.quotes[venue] = q
	}
	q.Apply(update, at)
	snapshot := *q
	b.mu.Unlock()

	if b.onQuote != nil {
		b.onQuote(snapshot)
	}
	return true
}

// Quote returns a copy of the latest quote for venue.
func (b *QuoteBook) Quote(venue domain.Venue) (domain.Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.quotes[venue]
	if !ok {
		return domain.Quote{}, false
	}
	return *q, true
}

// Snapshot returns all quotes sorted by venue.
func (b *QuoteBook) Snapshot() []domain.Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]domain.Quote, 0, len(b.quotes))
	for _, q := range b.quotes {
		result = append(result, *q)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Venue < result[j].Venue
	})
	return result
}
