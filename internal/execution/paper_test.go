package execution

import (
	"context"
	"testing"
	"time"

	"arbitrage_go/internal/domain"
	"arbitrage_go/internal/event"

	"github.com/shopspring/decimal"
)

var testPair = domain.Pair{Base: "TUSD", Quote: "USDT"}

type staticQuotes map[domain.Venue]domain.Quote

func (s staticQuotes) Quote(v domain.Venue) (domain.Quote, bool) {
	q, ok := s[v]
	return q, ok
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPaperExchange_Buy(t *testing.T) {
	var emitted []event.Event
	paper := NewPaperExchange(domain.VenueBinance, testPair, nil, func(ev event.Event) { emitted = append(emitted, ev) })

	paper.Deposit("USDT", dec("1000"))

	order := domain.OrderRequest{
		Venue:         domain.VenueBinance,
		Symbol:        "TUSDUSDT",
		Side:          domain.SideBuy,
		TimeInForce:   domain.TimeInForceFOK,
		Price:         dec("0.998"),
		Size:          dec("300"),
		ClientOrderID: "arb-1",
	}

	ack, err := paper.SubmitOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("SubmitOrder failed: %v", err)
	}
	if !ack.Accepted {
		t.Fatalf("Expected accepted, got %+v", ack)
	}

	// 1000 - 300 * 0.998 = 700.6
	if got := paper.GetBalance("USDT"); !got.Equal(dec("700.6")) {
		t.Errorf("Expected 700.6 USDT, got %s", got)
	}
	if got := paper.GetBalance("TUSD"); !got.Equal(dec("300")) {
		t.Errorf("Expected 300 TUSD, got %s", got)
	}

	fills := paper.GetFills()
	if len(fills) != 1 {
		t.Fatalf("Expected 1 fill, got %d", len(fills))
	}
	if fills[0].ClientOrderID != "arb-1" || fills[0].Side != domain.SideBuy {
		t.Errorf("unexpected fill %+v", fills[0])
	}

	if len(emitted) != 1 {
		t.Fatalf("Expected 1 emitted event, got %d", len(emitted))
	}
	upd, ok := emitted[0].(*event.AccountUpdate)
	if !ok {
		t.Fatalf("Expected *event.AccountUpdate, got %T", emitted[0])
	}
	if len(upd.Update.Fills) != 1 || len(upd.Update.Balances) != 2 {
		t.Errorf("unexpected update %+v", upd.Update)
	}
}

func TestPaperExchange_Sell(t *testing.T) {
	paper := NewPaperExchange(domain.VenueBybit, testPair, nil, nil)
	paper.Deposit("TUSD", dec("500"))

	ack, err := paper.SubmitOrder(context.Background(), domain.OrderRequest{
		Side:        domain.SideSell,
		TimeInForce: domain.TimeInForceGTC,
		Price:       dec("1.0005"),
		Size:        dec("200"),
	})
	if err != nil || !ack.Accepted {
		t.Fatalf("SubmitOrder = %+v, %v", ack, err)
	}

	if got := paper.GetBalance("TUSD"); !got.Equal(dec("300")) {
		t.Errorf("Expected 300 TUSD, got %s", got)
	}
	if got := paper.GetBalance("USDT"); !got.Equal(dec("200.1")) {
		t.Errorf("Expected 200.1 USDT, got %s", got)
	}
}

func TestPaperExchange_InsufficientBalance(t *testing.T) {
	paper := NewPaperExchange(domain.VenueBinance, testPair, nil, nil)
	paper.Deposit("USDT", dec("10"))

	ack, err := paper.SubmitOrder(context.Background(), domain.OrderRequest{
		Side:  domain.SideBuy,
		Price: dec("1"),
		Size:  dec("100"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Accepted {
		t.Fatal("Expected rejection for insufficient balance")
	}
	if len(paper.GetFills()) != 0 {
		t.Error("rejected order must not fill")
	}
}

func TestPaperExchange_FOKAgainstBook(t *testing.T) {
	quotes := staticQuotes{
		domain.VenueBinance: {
			Venue: domain.VenueBinance, BestBid: dec("0.9975"), BestBidSize: dec("100"),
			BestAsk: dec("0.9980"), BestAskSize: dec("300"), ObservedAt: time.Now(),
		},
	}

	tests := []struct {
		name  string
		price string
		size  string
		want  bool
	}{
		{"at ask within size", "0.9980", "300", true},
		{"below ask", "0.9979", "10", false},
		{"too large", "0.9980", "301", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paper := NewPaperExchange(domain.VenueBinance, testPair, quotes, nil)
			paper.Deposit("USDT", dec("10000"))

			ack, err := paper.SubmitOrder(context.Background(), domain.OrderRequest{
				Side:        domain.SideBuy,
				TimeInForce: domain.TimeInForceFOK,
				Price:       dec(tt.price),
				Size:        dec(tt.size),
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ack.Accepted != tt.want {
				t.Errorf("Accepted = %v, want %v (%s)", ack.Accepted, tt.want, ack.Reason)
			}
		})
	}
}

func TestPaperExchange_ImplementsInterfaces(t *testing.T) {
	var _ domain.OrderGateway = (*PaperExchange)(nil)
	var _ domain.BalanceSource = (*PaperExchange)(nil)
}
