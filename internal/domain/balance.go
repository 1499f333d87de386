package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the available amount of one asset on one venue.
type Balance struct {
	Venue      Venue           `json:"venue"`
	Asset      string          `json:"asset"`
	Available  decimal.Decimal `json:"available"`
	LastUpdate time.Time       `json:"last_update"`
}

// BalanceChange is a pushed or polled balance observation.
type BalanceChange struct {
	Asset     string
	Available decimal.Decimal
}

// Fill reports that an order identified by ClientOrderID completed.
type Fill struct {
	Venue         Venue
	Symbol        string
	ClientOrderID string
	Side          Side
	Price         decimal.Decimal
	Size          decimal.Decimal
}

// AccountUpdate is the decoded content of one account-stream message.
type AccountUpdate struct {
	Balances []BalanceChange
	Fills    []Fill
}

// Empty reports whether the update carries nothing actionable.
func (u AccountUpdate) Empty() bool {
	return len(u.Balances) == 0 && len(u.Fills) == 0
}

// NonNegative clamps a balance amount at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
