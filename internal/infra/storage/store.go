package storage

import (
	"context"
	"sort"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Store persists completed cycles and per-symbol settings.
type Store interface {
	domain.ProfitRecorder
	TotalProfit(ctx context.Context, symbol string) (decimal.Decimal, error)
	DailyGains(ctx context.Context, symbol string, since time.Time) ([]domain.DailyGain, error)
	ListProfits(ctx context.Context, symbol string, limit int) ([]domain.ProfitRecord, error)
	UpsertSymbolSetting(ctx context.Context, s *domain.SymbolSetting) error
	GetSymbolSetting(ctx context.Context, symbol string) (*domain.SymbolSetting, error)
	Close() error
}

// aggregateDaily folds records into one DailyGain per UTC calendar day,
// oldest day first.
func aggregateDaily(symbol string, recs []domain.ProfitRecord) []domain.DailyGain {
	byDay := make(map[string]*domain.DailyGain)
	for _, r := range recs {
		day := r.CreatedAt.UTC().Format(time.DateOnly)
		g, ok := byDay[day]
		if !ok {
			g = &domain.DailyGain{Date: day, Symbol: symbol}
			byDay[day] = g
		}
		g.Trades++
		g.Profit = g.Profit.Add(r.Profit)
		g.InvestedAmount = g.InvestedAmount.Add(r.ExecPrice.Mul(r.ExecQty))
	}

	out := make([]domain.DailyGain, 0, len(byDay))
	for _, g := range byDay {
		if g.InvestedAmount.IsPositive() {
			g.ProfitPct = g.Profit.Div(g.InvestedAmount).Mul(decimal.NewFromInt(100))
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
