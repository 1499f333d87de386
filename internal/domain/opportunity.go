package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Route is one direction of a venue pair: buy on Buy, sell on Sell.
type Route struct {
	Buy  Venue `json:"buy"`
	Sell Venue `json:"sell"`
}

func (r Route) String() string {
	return fmt.Sprintf("%s->%s", r.Buy, r.Sell)
}

// Routes returns every directional route over venues in priority order:
// for each pair (i<j), i->j then j->i.
func Routes(venues []Venue) []Route {
	var out []Route
	for i := 0; i < len(venues); i++ {
		for j := i + 1; j < len(venues); j++ {
			out = append(out, Route{Buy: venues[i], Sell: venues[j]})
			out = append(out, Route{Buy: venues[j], Sell: venues[i]})
		}
	}
	return out
}

// Opportunity is a qualifying route captured at one instant.
type Opportunity struct {
	Route      Route           `json:"route"`
	Symbol     string          `json:"symbol"`
	BuyPrice   decimal.Decimal `json:"buy_price"`
	SellPrice  decimal.Decimal `json:"sell_price"`
	Size       decimal.Decimal `json:"size"`
	SpreadPct  decimal.Decimal `json:"spread_pct"`
	DetectedAt time.Time       `json:"detected_at"`
}

// ExpectedProfit is size * spreadPct / 100, in quote units.
func (o Opportunity) ExpectedProfit() decimal.Decimal {
	return o.Size.Mul(o.SpreadPct).Div(decimal.NewFromInt(100))
}

// Phase of the execution state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLeg1Submitted
	PhaseAwaitingLeg2Trigger
	PhaseLeg2Submitted
	PhaseCooldown
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseLeg1Submitted:
		return "Leg1Submitted"
	case PhaseAwaitingLeg2Trigger:
		return "AwaitingLeg2Trigger"
	case PhaseLeg2Submitted:
		return "Leg2Submitted"
	case PhaseCooldown:
		return "Cooldown"
	default:
		return "Unknown"
	}
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ConnectionState of one (venue, channel) socket.
type ConnectionState struct {
	Venue            Venue   `json:"venue"`
	Channel          Channel `json:"channel"`
	Connected        bool    `json:"connected"`
	ReconnectAttempt int     `json:"reconnect_attempt"`
	Exhausted        bool    `json:"exhausted"`
}
