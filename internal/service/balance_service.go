package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
)

type connKey struct {
	venue   domain.Venue
	channel domain.Channel
}

// BalanceTracker keeps per-venue available balances and socket connectivity.
type BalanceTracker struct {
	mu       sync.RWMutex
	balances map[domain.Venue]map[string]*domain.Balance
	conns    map[connKey]domain.ConnectionState
	logger   *slog.Logger
}

// NewBalanceTracker creates an empty tracker.
func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[domain.Venue]map[string]*domain.Balance),
		conns:    make(map[connKey]domain.ConnectionState),
		logger:   slog.Default().With("module", "balance_tracker"),
	}
}

// OnBalanceEvent overwrites the available amount of asset on venue.
func (t *BalanceTracker) OnBalanceEvent(venue domain.Venue, asset string, amount decimal.Decimal, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(venue, asset, amount, at)
}

// Apply records a batch of balance changes from one account message.
func (t *BalanceTracker) Apply(venue domain.Venue, changes []domain.BalanceChange, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range changes {
		t.setLocked(venue, c.Asset, c.Available, at)
	}
}

// LoadSnapshot seeds balances from a REST snapshot.
func (t *BalanceTracker) LoadSnapshot(venue domain.Venue, snapshot map[string]decimal.Decimal, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for asset, amount := range snapshot {
		t.setLocked(venue, asset, amount, at)
	}
}

// Must be called with lock held
func (t *BalanceTracker) setLocked(venue domain.Venue, asset string, amount decimal.Decimal, at time.Time) {
	if amount.IsNegative() {
		t.logger.Warn("Negative balance clamped to zero",
			slog.String("venue", string(venue)),
			slog.String("asset", asset),
			slog.String("amount", amount.String()))
		amount = decimal.Zero
	}

	assets, ok := t.balances[venue]
	if !ok {
		assets = make(map[string]*domain.Balance)
		t.balances[venue] = assets
	}
	assets[asset] = &domain.Balance{
		Venue:      venue,
		Asset:      asset,
		Available:  amount,
		LastUpdate: at,
	}
}

// Available returns the latest known amount, zero if never seen.
func (t *BalanceTracker) Available(venue domain.Venue, asset string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if b, ok := t.balances[venue][asset]; ok {
		return b.Available
	}
	return decimal.Zero
}

// Balance returns the full record for (venue, asset).
func (t *BalanceTracker) Balance(venue domain.Venue, asset string) (domain.Balance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b, ok := t.balances[venue][asset]
	if !ok {
		return domain.Balance{}, false
	}
	return *b, true
}

// Totals sums each asset across venues.
func (t *BalanceTracker) Totals() map[string]decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	totals := make(map[string]decimal.Decimal)
	for _, assets := range t.balances {
		for asset, b := range assets {
			totals[asset] = totals[asset].Add(b.Available)
		}
	}
	return totals
}

// Snapshot returns all balances sorted by venue then asset.
func (t *BalanceTracker) Snapshot() []domain.Balance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []domain.Balance
	for _, assets := range t.balances {
		for _, b := range assets {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Venue != result[j].Venue {
			return result[i].Venue < result[j].Venue
		}
		return result[i].Asset < result[j].Asset
	})
	return result
}

// SetConnection records a supervisor state transition.
func (t *BalanceTracker) SetConnection(state domain.ConnectionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[connKey{state.Venue, state.Channel}] = state
}

// IsConnected reports whether (venue, channel) is currently up.
func (t *BalanceTracker) IsConnected(venue domain.Venue, channel domain.Channel) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conns[connKey{venue, channel}].Connected
}

// IsVenueTradable requires both market and account channels connected.
func (t *BalanceTracker) IsVenueTradable(venue domain.Venue) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conns[connKey{venue, domain.ChannelMarket}].Connected &&
		t.conns[connKey{venue, domain.ChannelAccount}].Connected
}

// Connections returns every known connection state sorted by venue, channel.
func (t *BalanceTracker) Connections() []domain.ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]domain.ConnectionState, 0, len(t.conns))
	for _, c := range t.conns {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Venue != result[j].Venue {
			return result[i].Venue < result[j].Venue
		}
		return result[i].Channel < result[j].Channel
	})
	return result
}
