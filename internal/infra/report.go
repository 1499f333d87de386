package infra

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
)

// RouteStatus is the report view of one route's detection statistics.
type RouteStatus struct {
	Route         domain.Route    `json:"route"`
	Evaluations   uint64          `json:"evaluations"`
	Qualified     uint64          `json:"qualified"`
	LastSpreadPct decimal.Decimal `json:"last_spread_pct"`
	MaxSpreadPct  decimal.Decimal `json:"max_spread_pct"`
}

// Status is one periodic snapshot of the whole engine.
type Status struct {
	Time            time.Time                  `json:"time"`
	Uptime          time.Duration              `json:"uptime_ns"`
	Mode            string                     `json:"mode"`
	Symbol          string                     `json:"symbol"`
	Phase           domain.Phase               `json:"phase"`
	ActiveTag       string                     `json:"active_tag,omitempty"`
	RealizedProfit  decimal.Decimal            `json:"realized_profit"`
	Cycles          uint64                     `json:"cycles"`
	Completed       uint64                     `json:"completed"`
	ErrorCount      uint64                     `json:"error_count"`
	TradingEnabled  bool                       `json:"trading_enabled"`
	DetectionPasses uint64                     `json:"detection_passes"`
	Quotes          []domain.Quote             `json:"quotes"`
	Balances        []domain.Balance           `json:"balances"`
	Totals          map[string]decimal.Decimal `json:"totals"`
	Connections     []domain.ConnectionState   `json:"connections"`
	Routes          []RouteStatus              `json:"routes"`
	Metrics         MetricsSnapshot            `json:"metrics"`

	// filled from storage when a history source is configured
	Today         *domain.DailyGain     `json:"today,omitempty"`
	RecentProfits []domain.ProfitRecord `json:"recent_profits,omitempty"`
}

// Healthy reports whether every supervised socket is connected.
func (s Status) Healthy() bool {
	for _, c := range s.Connections {
		if !c.Connected {
			return false
		}
	}
	return true
}

// RenderStatus writes the human-readable multi-line report.
func RenderStatus(w io.Writer, s Status) {
	var b strings.Builder

	fmt.Fprintf(&b, "===== %s %s [%s] up %s =====\n",
		s.Symbol, s.Time.Format("2006-01-02 15:04:05"), s.Mode, s.Uptime.Truncate(time.Second))
	fmt.Fprintf(&b, "phase: %s", s.Phase)
	if s.ActiveTag != "" {
		fmt.Fprintf(&b, " (%s)", s.ActiveTag)
	}
	if !s.TradingEnabled {
		b.WriteString(" [trading disabled]")
	}
	fmt.Fprintf(&b, "\nrealized profit: %s  cycles: %d  completed: %d  errors: %d\n",
		s.RealizedProfit.StringFixed(4), s.Cycles, s.Completed, s.ErrorCount)

	b.WriteString("quotes:\n")
	for _, q := range s.Quotes {
		fmt.Fprintf(&b, "  %-8s bid %s x %s  ask %s x %s  (%s ago)\n",
			q.Venue, q.BestBid, q.BestBidSize, q.BestAsk, q.BestAskSize,
			age(s.Time, q.ObservedAt))
	}

	b.WriteString("balances:\n")
	for _, bal := range s.Balances {
		fmt.Fprintf(&b, "  %-8s %-6s %s\n", bal.Venue, bal.Asset, bal.Available)
	}
	assets := make([]string, 0, len(s.Totals))
	for a := range s.Totals {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	for _, a := range assets {
		fmt.Fprintf(&b, "  %-8s %-6s %s\n", "total", a, s.Totals[a])
	}

	b.WriteString("connections:\n")
	for _, c := range s.Connections {
		state := "up"
		switch {
		case c.Exhausted:
			state = "GAVE UP"
		case !c.Connected:
			state = fmt.Sprintf("down (attempt %d)", c.ReconnectAttempt)
		}
		fmt.Fprintf(&b, "  %-8s %-8s %s\n", c.Venue, c.Channel, state)
	}

	fmt.Fprintf(&b, "routes (%d passes):\n", s.DetectionPasses)
	for _, r := range s.Routes {
		fmt.Fprintf(&b, "  %-16s evals %-8d hits %-6d last %s%%  max %s%%\n",
			r.Route, r.Evaluations, r.Qualified,
			r.LastSpreadPct.StringFixed(4), r.MaxSpreadPct.StringFixed(4))
	}

	if s.Today != nil {
		fmt.Fprintf(&b, "today (%s): %d trades  profit %s  (%s%%)\n",
			s.Today.Date, s.Today.Trades, s.Today.Profit.StringFixed(4), s.Today.ProfitPct.StringFixed(4))
	}
	if len(s.RecentProfits) > 0 {
		b.WriteString("recent cycles:\n")
		for _, p := range s.RecentProfits {
			fmt.Fprintf(&b, "  %s %-16s %s x %s  profit %s\n",
				p.CreatedAt.UTC().Format("15:04:05"), p.BuyVenue+"->"+p.SellVenue,
				p.ExecPrice, p.ExecQty, p.Profit.StringFixed(4))
		}
	}

	m := s.Metrics
	fmt.Fprintf(&b, "events: %d  dropped: %d  opps: %d  leg1: %d/%d rej/%d t/o  leg2 fail: %d  late fills: %d  reconnects: %d\n",
		m.EventsProcessed, m.MarketDropped, m.Opportunities,
		m.Leg1Submitted, m.Leg1Rejected, m.Leg1Timeouts,
		m.Leg2Failures, m.LateFills, m.Reconnects)

	io.WriteString(w, b.String())
}

func age(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return now.Sub(t).Truncate(time.Millisecond).String()
}
