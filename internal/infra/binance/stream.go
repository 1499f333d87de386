package binance

import (
	"context"
	"strings"
	"sync"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/infra/ws"
)

const (
	StreamURL = "wss://stream.binance.com:9443"

	listenKeyKeepalive = 30 * time.Minute
)

// MarketProtocol reads <symbol>@bookTicker. The stream is named in the
// URL, so every reconnect subscribes to the same thing.
type MarketProtocol struct {
	base   string
	symbol string
}

// NewMarketProtocol creates the bookTicker stream for symbol.
func NewMarketProtocol(base, symbol string) *MarketProtocol {
	if base == "" {
		base = StreamURL
	}
	return &MarketProtocol{base: base, symbol: symbol}
}

func (p *MarketProtocol) Venue() domain.Venue     { return domain.VenueBinance }
func (p *MarketProtocol) Channel() domain.Channel { return domain.ChannelMarket }

func (p *MarketProtocol) Endpoint(ctx context.Context) (string, error) {
	return p.base + "/ws/" + strings.ToLower(p.symbol) + "@bookTicker", nil
}

func (p *MarketProtocol) OnOpen(ctx context.Context, s *ws.Session) error { return nil }

// Ping returns nil: Binance answers websocket control pings.
func (p *MarketProtocol) Ping() []byte           { return nil }
func (p *MarketProtocol) IsPong(msg []byte) bool { return false }

// ListenKeySource issues and refreshes user data stream keys.
type ListenKeySource interface {
	StartUserStream(ctx context.Context) (string, error)
	KeepaliveUserStream(ctx context.Context, listenKey string) error
}

// AccountProtocol reads the user data stream. A new listen key is
// requested on every connect and kept alive while connected.
type AccountProtocol struct {
	base string
	keys ListenKeySource

	mu        sync.Mutex
	listenKey string
}

// NewAccountProtocol creates the user data stream.
func NewAccountProtocol(base string, keys ListenKeySource) *AccountProtocol {
	if base == "" {
		base = StreamURL
	}
	return &AccountProtocol{base: base, keys: keys}
}

func (p *AccountProtocol) Venue() domain.Venue     { return domain.VenueBinance }
func (p *AccountProtocol) Channel() domain.Channel { return domain.ChannelAccount }

func (p *AccountProtocol) Endpoint(ctx context.Context) (string, error) {
	key, err := p.keys.StartUserStream(ctx)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.listenKey = key
	p.mu.Unlock()
	return p.base + "/ws/" + key, nil
}

func (p *AccountProtocol) OnOpen(ctx context.Context, s *ws.Session) error { return nil }

func (p *AccountProtocol) Ping() []byte           { return nil }
func (p *AccountProtocol) IsPong(msg []byte) bool { return false }

func (p *AccountProtocol) MaintainInterval() time.Duration { return listenKeyKeepalive }

func (p *AccountProtocol) Maintain(ctx context.Context) error {
	p.mu.Lock()
	key := p.listenKey
	p.mu.Unlock()
	if key == "" {
		return nil
	}
	return p.keys.KeepaliveUserStream(ctx, key)
}
