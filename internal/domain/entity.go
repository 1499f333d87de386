package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProfitRecord is one completed arbitrage cycle.
type ProfitRecord struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Symbol         string          `gorm:"index:idx_profit_symbol_created,priority:1;not null" json:"symbol"`
	Side           string          `gorm:"not null" json:"side"` // side of the closing leg
	ExecPrice      decimal.Decimal `gorm:"type:numeric" json:"exec_price"`
	ExecQty        decimal.Decimal `gorm:"type:numeric" json:"exec_qty"`
	Profit         decimal.Decimal `gorm:"type:numeric" json:"profit"`
	ProfitPct      decimal.Decimal `gorm:"type:numeric" json:"profit_pct"`
	BuyVenue       string          `json:"buy_venue"`
	SellVenue      string          `json:"sell_venue"`
	CorrelationTag string          `gorm:"index" json:"correlation_tag"`
	CreatedAt      time.Time       `gorm:"index:idx_profit_symbol_created,priority:2" json:"created_at"`
}

// DailyGain aggregates profit records per calendar day (UTC).
type DailyGain struct {
	Date           string          `json:"date"`
	Symbol         string          `json:"symbol"`
	Trades         int64           `json:"trades"`
	Profit         decimal.Decimal `json:"profit"`
	InvestedAmount decimal.Decimal `json:"invested_amount"`
	ProfitPct      decimal.Decimal `json:"profit_pct"`
}

// SymbolSetting is the persisted per-symbol trading switch and price band.
type SymbolSetting struct {
	Symbol        string          `gorm:"primaryKey" json:"symbol"`
	Enabled       bool            `json:"enabled"`
	PriceBandLow  decimal.Decimal `gorm:"type:numeric" json:"price_band_low"`
	PriceBandHigh decimal.Decimal `gorm:"type:numeric" json:"price_band_high"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// InBand reports whether price lies inside the band. An unset bound is open.
func (s SymbolSetting) InBand(price decimal.Decimal) bool {
	if s.PriceBandLow.IsPositive() && price.LessThan(s.PriceBandLow) {
		return false
	}
	if s.PriceBandHigh.IsPositive() && price.GreaterThan(s.PriceBandHigh) {
		return false
	}
	return true
}
