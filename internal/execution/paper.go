package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/event"

	"github.com/shopspring/decimal"
)

// QuoteSource exposes the latest quote of a venue.
type QuoteSource interface {
	Quote(venue domain.Venue) (domain.Quote, bool)
}

// PaperExchange simulates one venue in memory. Accepted orders fill
// immediately: balances move and a synthetic account update carrying the
// fill is emitted before the acknowledgment is returned.
type PaperExchange struct {
	mu       sync.Mutex
	venue    domain.Venue
	pair     domain.Pair
	balances map[string]decimal.Decimal
	fills    []domain.Fill
	quotes   QuoteSource
	emit     func(event.Event)
	seq      uint64
	logger   *slog.Logger
}

// NewPaperExchange creates an empty paper venue. quotes may be nil, in
// which case fill-or-kill orders are never checked against the book.
func NewPaperExchange(venue domain.Venue, pair domain.Pair, quotes QuoteSource, emit func(event.Event)) *PaperExchange {
	return &PaperExchange{
		venue:    venue,
		pair:     pair,
		balances: make(map[string]decimal.Decimal),
		quotes:   quotes,
		emit:     emit,
		logger:   slog.Default().With("module", "paper", "venue", string(venue)),
	}
}

// Deposit credits asset.
func (p *PaperExchange) Deposit(asset string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[asset] = p.balances[asset].Add(amount)
}

// GetBalance returns the balance of asset.
func (p *PaperExchange) GetBalance(asset string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[asset]
}

// GetBalances implements domain.BalanceSource.
func (p *PaperExchange) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out, nil
}

// GetFills returns every simulated fill.
func (p *PaperExchange) GetFills() []domain.Fill {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

// SubmitOrder implements domain.OrderGateway.
func (p *PaperExchange) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderAck{}, err
	}

	if req.TimeInForce == domain.TimeInForceFOK && !p.crossesBook(req) {
		return domain.Rejected("fok order would not fill"), nil
	}

	p.mu.Lock()
	cost := req.Price.Mul(req.Size)
	switch req.Side {
	case domain.SideBuy:
		if p.balances[p.pair.Quote].LessThan(cost) {
			p.mu.Unlock()
			return domain.Rejected(domain.ErrInsufficientBalance.Error()), nil
		}
		p.balances[p.pair.Quote] = p.balances[p.pair.Quote].Sub(cost)
		p.balances[p.pair.Base] = p.balances[p.pair.Base].Add(req.Size)
	case domain.SideSell:
		if p.balances[p.pair.Base].LessThan(req.Size) {
			p.mu.Unlock()
			return domain.Rejected(domain.ErrInsufficientBalance.Error()), nil
		}
		p.balances[p.pair.Base] = p.balances[p.pair.Base].Sub(req.Size)
		p.balances[p.pair.Quote] = p.balances[p.pair.Quote].Add(cost)
	default:
		p.mu.Unlock()
		return domain.OrderAck{}, fmt.Errorf("paper: unknown side %q", req.Side)
	}

	p.seq++
	orderID := fmt.Sprintf("paper-%s-%d", p.venue, p.seq)
	fill := domain.Fill{
		Venue:         p.venue,
		Symbol:        req.Symbol,
		ClientOrderID: req.ClientOrderID,
		Side:          req.Side,
		Price:         req.Price,
		Size:          req.Size,
	}
	p.fills = append(p.fills, fill)
	update := domain.AccountUpdate{
		Fills: []domain.Fill{fill},
		Balances: []domain.BalanceChange{
			{Asset: p.pair.Base, Available: p.balances[p.pair.Base]},
			{Asset: p.pair.Quote, Available: p.balances[p.pair.Quote]},
		},
	}
	p.mu.Unlock()

	p.logger.Info("Paper order filled",
		slog.String("oid", orderID),
		slog.String("side", string(req.Side)),
		slog.String("price", req.Price.String()),
		slog.String("size", req.Size.String()))

	if p.emit != nil {
		p.emit(&event.AccountUpdate{
			BaseEvent: event.BaseEvent{Ts: time.Now()},
			Venue:     p.venue,
			Update:    update,
		})
	}
	return domain.Accepted(orderID), nil
}

// crossesBook checks a fill-or-kill order against the latest quote.
func (p *PaperExchange) crossesBook(req domain.OrderRequest) bool {
	if p.quotes == nil {
		return true
	}
	q, ok := p.quotes.Quote(p.venue)
	if !ok || !q.Complete() {
		return false
	}
	if req.Side == domain.SideBuy {
		return req.Price.GreaterThanOrEqual(q.BestAsk) && req.Size.LessThanOrEqual(q.BestAskSize)
	}
	return req.Price.LessThanOrEqual(q.BestBid) && req.Size.LessThanOrEqual(q.BestBidSize)
}
