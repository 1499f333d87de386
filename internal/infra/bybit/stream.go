package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/infra/ws"
)

const (
	PublicSpotURL = "wss://stream.bybit.com/v5/public/spot"
	PrivateURL    = "wss://stream.bybit.com/v5/private"

	authTimeout = 10 * time.Second
)

type opRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args,omitempty"`
}

type opResponse struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

var pingFrame = []byte(`{"op":"ping"}`)

func isPong(msg []byte) bool {
	if !bytes.Contains(msg, []byte("pong")) {
		return false
	}
	var r opResponse
	if err := json.Unmarshal(msg, &r); err != nil {
		return false
	}
	return r.Op == "pong" || r.RetMsg == "pong"
}

// MarketProtocol subscribes to the top level of the spot book.
type MarketProtocol struct {
	url    string
	symbol string
}

// NewMarketProtocol creates the public orderbook.1 stream for symbol.
func NewMarketProtocol(url, symbol string) *MarketProtocol {
	if url == "" {
		url = PublicSpotURL
	}
	return &MarketProtocol{url: url, symbol: symbol}
}

func (p *MarketProtocol) Venue() domain.Venue     { return domain.VenueBybit }
func (p *MarketProtocol) Channel() domain.Channel { return domain.ChannelMarket }

func (p *MarketProtocol) Endpoint(ctx context.Context) (string, error) { return p.url, nil }

func (p *MarketProtocol) OnOpen(ctx context.Context, s *ws.Session) error {
	return s.SendJSON(opRequest{Op: "subscribe", Args: []any{"orderbook.1." + p.symbol}})
}

func (p *MarketProtocol) Ping() []byte           { return pingFrame }
func (p *MarketProtocol) IsPong(msg []byte) bool { return isPong(msg) }

// AccountProtocol authenticates and subscribes to wallet and execution.
type AccountProtocol struct {
	url    string
	signer *Signer
}

// NewAccountProtocol creates the private stream.
func NewAccountProtocol(url string, signer *Signer) *AccountProtocol {
	if url == "" {
		url = PrivateURL
	}
	return &AccountProtocol{url: url, signer: signer}
}

func (p *AccountProtocol) Venue() domain.Venue     { return domain.VenueBybit }
func (p *AccountProtocol) Channel() domain.Channel { return domain.ChannelAccount }

func (p *AccountProtocol) Endpoint(ctx context.Context) (string, error) { return p.url, nil }

func (p *AccountProtocol) OnOpen(ctx context.Context, s *ws.Session) error {
	if err := s.SendJSON(opRequest{Op: "auth", Args: p.signer.AuthArgs(authTimeout)}); err != nil {
		return err
	}
	err := s.Expect(authTimeout, func(msg []byte) (bool, error) {
		var r opResponse
		if json.Unmarshal(msg, &r) != nil || r.Op != "auth" {
			return false, nil
		}
		if !r.Success {
			return false, domain.NewFatalNetworkError("auth", fmt.Errorf("bybit auth failed: %s", r.RetMsg))
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	return s.SendJSON(opRequest{Op: "subscribe", Args: []any{"wallet", "execution"}})
}

func (p *AccountProtocol) Ping() []byte           { return pingFrame }
func (p *AccountProtocol) IsPong(msg []byte) bool { return isPong(msg) }
