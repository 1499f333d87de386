package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"arbitrage_go/internal/domain"
)

// Runs against a live server only when ARB_TEST_POSTGRES_DSN is set.
func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("ARB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ARB_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewPostgresStore(ctx, dsn, 2)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	symbol := "TEST" + time.Now().Format("150405.000")

	rec := record(symbol, "0.7515", "1.0005", "300", time.Now().UTC())
	if err := s.RecordProfit(ctx, rec); err != nil {
		t.Fatalf("RecordProfit failed: %v", err)
	}
	if rec.ID == 0 {
		t.Error("expected an assigned id")
	}

	total, err := s.TotalProfit(ctx, symbol)
	if err != nil || !total.Equal(dec("0.7515")) {
		t.Errorf("total = %s, err = %v", total, err)
	}

	recs, err := s.ListProfits(ctx, symbol, 10)
	if err != nil || len(recs) != 1 || !recs[0].ExecQty.Equal(dec("300")) {
		t.Errorf("recs = %+v, err = %v", recs, err)
	}

	if err := s.UpsertSymbolSetting(ctx, &domain.SymbolSetting{Symbol: symbol, Enabled: true, PriceBandLow: dec("0.9")}); err != nil {
		t.Fatalf("UpsertSymbolSetting failed: %v", err)
	}
	got, err := s.GetSymbolSetting(ctx, symbol)
	if err != nil || got == nil || !got.Enabled || !got.PriceBandLow.Equal(dec("0.9")) {
		t.Errorf("setting = %+v, err = %v", got, err)
	}

	missing, err := s.GetSymbolSetting(ctx, symbol+"X")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil; got %v, %v", missing, err)
	}
}
