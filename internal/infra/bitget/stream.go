package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/infra/ws"
)

const loginTimeout = 10 * time.Second

var (
	pingFrame = []byte("ping")
	pongFrame = "pong"
)

// MarketProtocol subscribes to the spot ticker, which carries the best
// bid and ask with sizes.
type MarketProtocol struct {
	url    string
	symbol string
}

// NewMarketProtocol creates the public ticker stream for symbol.
func NewMarketProtocol(url, symbol string) *MarketProtocol {
	if url == "" {
		url = PublicWSURL
	}
	return &MarketProtocol{url: url, symbol: symbol}
}

func (p *MarketProtocol) Venue() domain.Venue     { return domain.VenueBitget }
func (p *MarketProtocol) Channel() domain.Channel { return domain.ChannelMarket }

func (p *MarketProtocol) Endpoint(ctx context.Context) (string, error) { return p.url, nil }

func (p *MarketProtocol) OnOpen(ctx context.Context, s *ws.Session) error {
	return s.SendJSON(subscribeRequest{
		Op:   "subscribe",
		Args: []subscribeArg{{InstType: "SPOT", Channel: "ticker", InstId: p.symbol}},
	})
}

func (p *MarketProtocol) Ping() []byte           { return pingFrame }
func (p *MarketProtocol) IsPong(msg []byte) bool { return string(msg) == pongFrame }

// AccountProtocol logs in and subscribes to balances and orders.
type AccountProtocol struct {
	url    string
	signer *Signer
}

// NewAccountProtocol creates the private stream.
func NewAccountProtocol(url string, signer *Signer) *AccountProtocol {
	if url == "" {
		url = PrivateWSURL
	}
	return &AccountProtocol{url: url, signer: signer}
}

func (p *AccountProtocol) Venue() domain.Venue     { return domain.VenueBitget }
func (p *AccountProtocol) Channel() domain.Channel { return domain.ChannelAccount }

func (p *AccountProtocol) Endpoint(ctx context.Context) (string, error) { return p.url, nil }

func (p *AccountProtocol) OnOpen(ctx context.Context, s *ws.Session) error {
	if err := s.SendJSON(loginRequest{Op: "login", Args: []loginArg{p.signer.LoginArg()}}); err != nil {
		return err
	}
	err := s.Expect(loginTimeout, func(msg []byte) (bool, error) {
		var r eventResponse
		if json.Unmarshal(msg, &r) != nil {
			return false, nil
		}
		switch r.Event {
		case "login":
			return true, nil
		case "error":
			return false, domain.NewFatalNetworkError("login", fmt.Errorf("bitget login failed: %v %s", r.Code, r.Msg))
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	return s.SendJSON(subscribeRequest{
		Op: "subscribe",
		Args: []subscribeArg{
			{InstType: "SPOT", Channel: "account", Coin: "default"},
			{InstType: "SPOT", Channel: "orders", InstId: "default"},
		},
	})
}

func (p *AccountProtocol) Ping() []byte           { return pingFrame }
func (p *AccountProtocol) IsPong(msg []byte) bool { return string(msg) == pongFrame }
