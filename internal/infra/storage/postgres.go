package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS profit_records (
	id              BIGSERIAL PRIMARY KEY,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	exec_price      NUMERIC NOT NULL,
	exec_qty        NUMERIC NOT NULL,
	profit          NUMERIC NOT NULL,
	profit_pct      NUMERIC NOT NULL,
	buy_venue       TEXT NOT NULL DEFAULT '',
	sell_venue      TEXT NOT NULL DEFAULT '',
	correlation_tag TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_profit_symbol_created ON profit_records (symbol, created_at);
CREATE INDEX IF NOT EXISTS idx_profit_records_correlation_tag ON profit_records (correlation_tag);

CREATE TABLE IF NOT EXISTS symbol_settings (
	symbol          TEXT PRIMARY KEY,
	enabled         BOOLEAN NOT NULL,
	price_band_low  NUMERIC NOT NULL DEFAULT 0,
	price_band_high NUMERIC NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const profitSelectCols = `id, symbol, side, exec_price::text, exec_qty::text, profit::text,
	profit_pct::text, buy_venue, sell_venue, correlation_tag, created_at`

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// RecordProfit inserts one completed cycle and sets its id.
func (s *PostgresStore) RecordProfit(ctx context.Context, rec *domain.ProfitRecord) error {
	const query = `
		INSERT INTO profit_records (
			symbol, side, exec_price, exec_qty, profit, profit_pct,
			buy_venue, sell_venue, correlation_tag, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var id int64
	err := s.pool.QueryRow(ctx, query,
		rec.Symbol, rec.Side, rec.ExecPrice.String(), rec.ExecQty.String(),
		rec.Profit.String(), rec.ProfitPct.String(),
		rec.BuyVenue, rec.SellVenue, rec.CorrelationTag, rec.CreatedAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("postgres: insert profit %s: %w", rec.CorrelationTag, err)
	}
	rec.ID = uint(id)
	return nil
}

// TotalProfit sums realized profit for symbol.
func (s *PostgresStore) TotalProfit(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var total string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(profit), 0)::text FROM profit_records WHERE symbol = $1`,
		symbol,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: total profit %s: %w", symbol, err)
	}
	return decimal.NewFromString(total)
}

// DailyGains aggregates records created at or after since, per UTC day.
func (s *PostgresStore) DailyGains(ctx context.Context, symbol string, since time.Time) ([]domain.DailyGain, error) {
	query := `SELECT ` + profitSelectCols + ` FROM profit_records
		WHERE symbol = $1 AND created_at >= $2 ORDER BY created_at`
	recs, err := s.queryProfits(ctx, query, symbol, since)
	if err != nil {
		return nil, err
	}
	return aggregateDaily(symbol, recs), nil
}

// ListProfits returns the newest records first. limit <= 0 returns all.
func (s *PostgresStore) ListProfits(ctx context.Context, symbol string, limit int) ([]domain.ProfitRecord, error) {
	query := `SELECT ` + profitSelectCols + ` FROM profit_records
		WHERE symbol = $1 ORDER BY created_at DESC, id DESC`
	args := []any{symbol}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.queryProfits(ctx, query, args...)
}

func (s *PostgresStore) queryProfits(ctx context.Context, query string, args ...any) ([]domain.ProfitRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list profits: %w", err)
	}
	defer rows.Close()

	var recs []domain.ProfitRecord
	for rows.Next() {
		var (
			r                             domain.ProfitRecord
			id                            int64
			price, qty, profit, profitPct string
		)
		if err := rows.Scan(
			&id, &r.Symbol, &r.Side, &price, &qty, &profit,
			&profitPct, &r.BuyVenue, &r.SellVenue, &r.CorrelationTag, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan profit: %w", err)
		}
		r.ID = uint(id)
		r.ExecPrice = num(price)
		r.ExecQty = num(qty)
		r.Profit = num(profit)
		r.ProfitPct = num(profitPct)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate profits: %w", err)
	}
	return recs, nil
}

// UpsertSymbolSetting creates or replaces the setting for its symbol.
func (s *PostgresStore) UpsertSymbolSetting(ctx context.Context, setting *domain.SymbolSetting) error {
	const query = `
		INSERT INTO symbol_settings (symbol, enabled, price_band_low, price_band_high)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO UPDATE SET
			enabled         = EXCLUDED.enabled,
			price_band_low  = EXCLUDED.price_band_low,
			price_band_high = EXCLUDED.price_band_high,
			updated_at      = NOW()`

	_, err := s.pool.Exec(ctx, query,
		setting.Symbol, setting.Enabled,
		setting.PriceBandLow.String(), setting.PriceBandHigh.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert symbol setting %s: %w", setting.Symbol, err)
	}
	return nil
}

// GetSymbolSetting returns nil without error when the symbol is unknown.
func (s *PostgresStore) GetSymbolSetting(ctx context.Context, symbol string) (*domain.SymbolSetting, error) {
	const query = `
		SELECT symbol, enabled, price_band_low::text, price_band_high::text, created_at, updated_at
		FROM symbol_settings WHERE symbol = $1`

	var (
		st        domain.SymbolSetting
		low, high string
	)
	err := s.pool.QueryRow(ctx, query, symbol).Scan(
		&st.Symbol, &st.Enabled, &low, &high, &st.CreatedAt, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get symbol setting %s: %w", symbol, err)
	}
	st.PriceBandLow = num(low)
	st.PriceBandHigh = num(high)
	return &st, nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func num(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
