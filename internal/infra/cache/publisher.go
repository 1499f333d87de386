// Package cache mirrors engine status and realized profit into Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const defaultPrefix = "arb"

// Config holds connection parameters for the Redis mirror.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// StatusPublisher writes the latest status snapshot under <prefix>:status,
// publishes it on the channel of the same name, and keeps realized profit
// under <prefix>:profit.
type StatusPublisher struct {
	rdb    *redis.Client
	prefix string
}

// New connects and pings. The caller owns Close.
func New(ctx context.Context, cfg Config) (*StatusPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return newPublisher(rdb, cfg.Prefix), nil
}

func newPublisher(rdb *redis.Client, prefix string) *StatusPublisher {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &StatusPublisher{rdb: rdb, prefix: prefix}
}

// StatusKey is both the key and the pub/sub channel for status snapshots.
func (p *StatusPublisher) StatusKey() string { return p.prefix + ":status" }

// ProfitKey holds realized profit as a decimal string.
func (p *StatusPublisher) ProfitKey() string { return p.prefix + ":profit" }

// PublishStatus stores v as JSON and notifies subscribers in one transaction.
func (p *StatusPublisher) PublishStatus(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal status: %w", err)
	}

	pipe := p.rdb.TxPipeline()
	pipe.Set(ctx, p.StatusKey(), data, 0)
	pipe.Publish(ctx, p.StatusKey(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish status: %w", err)
	}
	return nil
}

// SetProfit mirrors realized profit.
func (p *StatusPublisher) SetProfit(ctx context.Context, profit decimal.Decimal) error {
	if err := p.rdb.Set(ctx, p.ProfitKey(), profit.String(), 0).Err(); err != nil {
		return fmt.Errorf("redis: set profit: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (p *StatusPublisher) Close() error {
	return p.rdb.Close()
}
