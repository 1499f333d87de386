package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// ExchangeWorker defines the lifecycle of a supervised venue socket.
type ExchangeWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// OrderGateway submits orders to one venue.
type OrderGateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
}

// BalanceSource returns a REST snapshot of available balances keyed by asset.
type BalanceSource interface {
	GetBalances(ctx context.Context) (map[string]decimal.Decimal, error)
}

// MarketDecoder turns a raw market-stream message into a top-of-book update.
type MarketDecoder interface {
	DecodeMarket(raw []byte) (BookUpdate, bool)
}

// AccountDecoder turns a raw account-stream message into balance changes and fills.
type AccountDecoder interface {
	DecodeAccount(raw []byte) (AccountUpdate, bool)
}

// ProfitRecorder persists completed cycles.
type ProfitRecorder interface {
	RecordProfit(ctx context.Context, rec *ProfitRecord) error
}

// Alerter delivers operator alerts.
type Alerter interface {
	Alert(ctx context.Context, title, message string) error
}
