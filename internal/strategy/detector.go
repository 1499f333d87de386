package strategy

import (
	"log/slog"
	"sync"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Params configures the opportunity detector.
type Params struct {
	Pair          domain.Pair
	Venues        []domain.Venue // priority order
	MinProfitPct  decimal.Decimal
	MinTradeSize  decimal.Decimal
	BalanceMargin decimal.Decimal // fraction of reported balance usable, e.g. 0.98
	SizeStep      decimal.Decimal // sizes are floored to a multiple of this
	StaleAfter    time.Duration
}

// RouteStats is the monitoring view of one route.
type RouteStats struct {
	Route         domain.Route    `json:"route"`
	Evaluations   uint64          `json:"evaluations"`
	Qualified     uint64          `json:"qualified"`
	LastSpreadPct decimal.Decimal `json:"last_spread_pct"`
	MaxSpreadPct  decimal.Decimal `json:"max_spread_pct"`
	LastSize      decimal.Decimal `json:"last_size"`
}

// Detector evaluates every directional route after each quote write and
// picks the first one that clears the profit and size thresholds.
type Detector struct {
	params   Params
	routes   []domain.Route
	quotes   QuoteReader
	balances BalanceReader

	mu      sync.RWMutex
	setting domain.SymbolSetting
	stats   []RouteStats
	passes  uint64

	logger *slog.Logger
}

// NewDetector builds a detector over the configured venues.
func NewDetector(params Params, quotes QuoteReader, balances BalanceReader) *Detector {
	if params.SizeStep.IsZero() {
		params.SizeStep = one
	}
	if params.BalanceMargin.IsZero() {
		params.BalanceMargin = decimal.RequireFromString("0.98")
	}

	routes := domain.Routes(params.Venues)
	stats := make([]RouteStats, len(routes))
	for i, r := range routes {
		stats[i].Route = r
	}

	return &Detector{
		params:   params,
		routes:   routes,
		quotes:   quotes,
		balances: balances,
		setting:  domain.SymbolSetting{Symbol: params.Pair.Symbol(), Enabled: true},
		stats:    stats,
		logger:   slog.Default().With("module", "detector"),
	}
}

// SetSymbolSetting replaces the trading switch and price band.
func (d *Detector) SetSymbolSetting(s domain.SymbolSetting) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setting = s
}

// Setting returns the current trading switch and price band.
func (d *Detector) Setting() domain.SymbolSetting {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.setting
}

// Evaluate implements Strategy.
func (d *Detector) Evaluate(now time.Time, idle bool) (domain.Opportunity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.passes++
	var (
		found  domain.Opportunity
		picked bool
	)

	for i, route := range d.routes {
		buy, sell, ok := d.freshPair(route, now)
		if !ok {
			continue
		}

		spread := SpreadPct(buy.BestAsk, sell.BestBid)
		size := d.maxSize(route, buy, sell)

		st := &d.stats[i]
		st.Evaluations++
		st.LastSpreadPct = spread
		st.LastSize = size
		if spread.GreaterThan(st.MaxSpreadPct) {
			st.MaxSpreadPct = spread
		}

		if spread.LessThan(d.params.MinProfitPct) || size.LessThan(d.params.MinTradeSize) || !size.IsPositive() {
			continue
		}
		if !d.setting.InBand(buy.BestAsk) || !d.setting.InBand(sell.BestBid) {
			d.logger.Warn("Price outside band, route skipped",
				slog.String("route", route.String()),
				slog.String("ask", buy.BestAsk.String()),
				slog.String("bid", sell.BestBid.String()))
			continue
		}
		st.Qualified++

		// First qualifying route wins; later routes only feed statistics.
		if !picked && idle && d.setting.Enabled {
			found = domain.Opportunity{
				Route:      route,
				Symbol:     d.params.Pair.Symbol(),
				BuyPrice:   buy.BestAsk,
				SellPrice:  sell.BestBid,
				Size:       size,
				SpreadPct:  spread,
				DetectedAt: now,
			}
			picked = true
		}
	}

	return found, picked
}

// freshPair returns both quotes of a route when they are complete, fresh,
// and both venues are tradable.
func (d *Detector) freshPair(route domain.Route, now time.Time) (domain.Quote, domain.Quote, bool) {
	buy, ok := d.quotes.Quote(route.Buy)
	if !ok || !buy.Complete() || !buy.IsFresh(now, d.params.StaleAfter) {
		return domain.Quote{}, domain.Quote{}, false
	}
	sell, ok := d.quotes.Quote(route.Sell)
	if !ok || !sell.Complete() || !sell.IsFresh(now, d.params.StaleAfter) {
		return domain.Quote{}, domain.Quote{}, false
	}
	if !d.balances.IsVenueTradable(route.Buy) || !d.balances.IsVenueTradable(route.Sell) {
		return domain.Quote{}, domain.Quote{}, false
	}
	return buy, sell, true
}

// maxSize = floor(min(askSize, bidSize, quoteBal*margin, baseBal*margin)).
// The quote balance is additionally converted to base units when the ask
// is above 1, so the bound never exceeds what the balance can pay for.
func (d *Detector) maxSize(route domain.Route, buy, sell domain.Quote) decimal.Decimal {
	m := d.params.BalanceMargin

	quoteCap := d.balances.Available(route.Buy, d.params.Pair.Quote).Mul(m)
	if buy.BestAsk.GreaterThan(one) {
		quoteCap = quoteCap.Div(buy.BestAsk)
	}
	baseCap := d.balances.Available(route.Sell, d.params.Pair.Base).Mul(m)

	size := decimal.Min(buy.BestAskSize, sell.BestBidSize, quoteCap, baseCap)
	return FloorToStep(size, d.params.SizeStep)
}

// Stats returns a copy of per-route statistics and the pass count.
func (d *Detector) Stats() ([]RouteStats, uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]RouteStats, len(d.stats))
	copy(out, d.stats)
	return out, d.passes
}

// SpreadPct = (bid / ask - 1) * 100.
func SpreadPct(ask, bid decimal.Decimal) decimal.Decimal {
	if !ask.IsPositive() {
		return decimal.Zero
	}
	return bid.Div(ask).Sub(one).Mul(hundred)
}

// FloorToStep floors d to a multiple of step.
func FloorToStep(d, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return d.Floor()
	}
	return d.Div(step).Floor().Mul(step)
}
