package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteStore is the default profit sink (pure Go SQLite through gorm).
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the database at path. An empty path
// resolves to the per-user data directory.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		p, err := getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		path = p
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.ProfitRecord{}, &domain.SymbolSetting{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "ArbitrageGo", "data", "arbitrage.db"), nil
}

// ======================================================================================
// Profit Operations
// ======================================================================================

// RecordProfit stores one completed cycle.
func (s *SQLiteStore) RecordProfit(ctx context.Context, rec *domain.ProfitRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	// times are compared as text, keep them in one zone
	rec.CreatedAt = rec.CreatedAt.UTC()
	return s.db.WithContext(ctx).Create(rec).Error
}

// TotalProfit sums realized profit for symbol.
func (s *SQLiteStore) TotalProfit(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var profits []decimal.Decimal
	err := s.db.WithContext(ctx).Model(&domain.ProfitRecord{}).
		Where("symbol = ?", symbol).
		Pluck("profit", &profits).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range profits {
		total = total.Add(p)
	}
	return total, nil
}

// DailyGains aggregates records created at or after since, per UTC day.
func (s *SQLiteStore) DailyGains(ctx context.Context, symbol string, since time.Time) ([]domain.DailyGain, error) {
	var recs []domain.ProfitRecord
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND created_at >= ?", symbol, since.UTC()).
		Order("created_at").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return aggregateDaily(symbol, recs), nil
}

// ListProfits returns the newest records first. limit <= 0 returns all.
func (s *SQLiteStore) ListProfits(ctx context.Context, symbol string, limit int) ([]domain.ProfitRecord, error) {
	q := s.db.WithContext(ctx).Where("symbol = ?", symbol).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []domain.ProfitRecord
	err := q.Find(&recs).Error
	return recs, err
}

// ======================================================================================
// Symbol Settings
// ======================================================================================

// UpsertSymbolSetting creates or replaces the setting for its symbol.
func (s *SQLiteStore) UpsertSymbolSetting(ctx context.Context, setting *domain.SymbolSetting) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "price_band_low", "price_band_high", "updated_at"}),
	}).Create(setting).Error
}

// GetSymbolSetting returns nil without error when the symbol is unknown.
func (s *SQLiteStore) GetSymbolSetting(ctx context.Context, symbol string) (*domain.SymbolSetting, error) {
	var setting domain.SymbolSetting
	err := s.db.WithContext(ctx).First(&setting, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
