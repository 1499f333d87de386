package binance

import (
	"encoding/json"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Decoder parses bookTicker and user data stream frames.
//
// Binance reuses single-letter keys that differ only by case ("c" and "C",
// "x" and "X"). encoding/json matches keys case-insensitively when there
// is no exact field, so every pair is declared even when one side is unused.
type Decoder struct{}

type bookTicker struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

// DecodeMarket implements domain.MarketDecoder.
func (Decoder) DecodeMarket(raw []byte) (domain.BookUpdate, bool) {
	var t bookTicker
	if err := json.Unmarshal(raw, &t); err != nil || t.Symbol == "" {
		return domain.BookUpdate{}, false
	}

	u := domain.BookUpdate{Symbol: t.Symbol}
	if bid := (domain.Level{Price: num(t.BidPrice), Size: num(t.BidQty)}); bid.Valid() {
		u.Bid = &bid
	}
	if ask := (domain.Level{Price: num(t.AskPrice), Size: num(t.AskQty)}); ask.Valid() {
		u.Ask = &ask
	}
	return u, !u.Empty()
}

type userEvent struct {
	Type      string `json:"e"`
	EventTime int64  `json:"E"`
}

type accountPosition struct {
	Type      string `json:"e"`
	EventTime int64  `json:"E"`
	Balances  []struct {
		Asset  string `json:"a"`
		Free   string `json:"f"`
		Locked string `json:"l"`
	} `json:"B"`
}

type executionReport struct {
	Type             string `json:"e"`
	EventTime        int64  `json:"E"`
	Symbol           string `json:"s"`
	Side             string `json:"S"`
	ClientOrderID    string `json:"c"`
	OrigClientID     string `json:"C"`
	ExecutionType    string `json:"x"`
	Status           string `json:"X"`
	LastQty          string `json:"l"`
	LastPrice        string `json:"L"`
	CumQty           string `json:"z"`
	CumQuote         string `json:"Z"`
	Price            string `json:"p"`
	StopPrice        string `json:"P"`
	Qty              string `json:"q"`
	QuoteQty         string `json:"Q"`
	TimeInForce      string `json:"f"`
	IcebergQty       string `json:"F"`
	OrderID          int64  `json:"i"`
	Ignore           int64  `json:"I"`
	TradeID          int64  `json:"t"`
	TransactionTime  int64  `json:"T"`
	Commission       string `json:"n"`
	CommissionAsset  string `json:"N"`
	IsMaker          bool   `json:"m"`
	IgnoreM          bool   `json:"M"`
	IsWorking        bool   `json:"w"`
	WorkingTime      int64  `json:"W"`
	OrderType        string `json:"o"`
	OrderCreatedTime int64  `json:"O"`
}

// DecodeAccount implements domain.AccountDecoder.
func (Decoder) DecodeAccount(raw []byte) (domain.AccountUpdate, bool) {
	var head userEvent
	if err := json.Unmarshal(raw, &head); err != nil {
		return domain.AccountUpdate{}, false
	}

	var u domain.AccountUpdate
	switch head.Type {
	case "outboundAccountPosition":
		var p accountPosition
		if err := json.Unmarshal(raw, &p); err != nil {
			return domain.AccountUpdate{}, false
		}
		for _, b := range p.Balances {
			u.Balances = append(u.Balances, domain.BalanceChange{Asset: b.Asset, Available: num(b.Free)})
		}
	case "executionReport":
		var r executionReport
		if err := json.Unmarshal(raw, &r); err != nil {
			return domain.AccountUpdate{}, false
		}
		if r.Status != "FILLED" || r.ClientOrderID == "" {
			return domain.AccountUpdate{}, false
		}
		side := domain.SideBuy
		if r.Side == "SELL" {
			side = domain.SideSell
		}
		size := num(r.CumQty)
		price := num(r.LastPrice)
		if size.IsPositive() && num(r.CumQuote).IsPositive() {
			price = num(r.CumQuote).Div(size)
		}
		u.Fills = append(u.Fills, domain.Fill{
			Venue:         domain.VenueBinance,
			Symbol:        r.Symbol,
			ClientOrderID: r.ClientOrderID,
			Side:          side,
			Price:         price,
			Size:          size,
		})
	default:
		return domain.AccountUpdate{}, false
	}
	return u, !u.Empty()
}

func num(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
