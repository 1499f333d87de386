package bybit

import (
	"encoding/json"
	"strings"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Decoder parses Bybit v5 public orderbook and private account frames.
type Decoder struct{}

type orderbookMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol string      `json:"s"`
		Bids   [][2]string `json:"b"`
		Asks   [][2]string `json:"a"`
	} `json:"data"`
}

// DecodeMarket implements domain.MarketDecoder for orderbook.1 topics.
func (Decoder) DecodeMarket(raw []byte) (domain.BookUpdate, bool) {
	var msg orderbookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.BookUpdate{}, false
	}
	if !strings.HasPrefix(msg.Topic, "orderbook.") {
		return domain.BookUpdate{}, false
	}

	u := domain.BookUpdate{Symbol: msg.Data.Symbol}
	if lvl, ok := domain.TopLevel(parseLevels(msg.Data.Bids)); ok {
		u.Bid = &lvl
	}
	if lvl, ok := domain.TopLevel(parseLevels(msg.Data.Asks)); ok {
		u.Ask = &lvl
	}
	return u, !u.Empty()
}

func parseLevels(raw [][2]string) []domain.Level {
	out := make([]domain.Level, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r[0])
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(r[1])
		if err != nil {
			continue
		}
		out = append(out, domain.Level{Price: price, Size: size})
	}
	return out
}

type accountMessage struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type walletData struct {
	Coin []walletCoin `json:"coin"`
}

type executionData struct {
	Symbol      string `json:"symbol"`
	OrderLinkID string `json:"orderLinkId"`
	Side        string `json:"side"`
	ExecPrice   string `json:"execPrice"`
	ExecQty     string `json:"execQty"`
	LeavesQty   string `json:"leavesQty"`
}

// DecodeAccount implements domain.AccountDecoder for the wallet and
// execution topics. An execution counts as a fill once nothing is left.
func (Decoder) DecodeAccount(raw []byte) (domain.AccountUpdate, bool) {
	var msg accountMessage
	if err := json.Unmarshal(raw, &msg); err != nil || len(msg.Data) == 0 {
		return domain.AccountUpdate{}, false
	}

	var u domain.AccountUpdate
	switch msg.Topic {
	case "wallet":
		var data []walletData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return domain.AccountUpdate{}, false
		}
		for _, acct := range data {
			for _, c := range acct.Coin {
				u.Balances = append(u.Balances, domain.BalanceChange{
					Asset:     c.Coin,
					Available: c.Available(),
				})
			}
		}
	case "execution":
		var data []executionData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return domain.AccountUpdate{}, false
		}
		for _, e := range data {
			if e.LeavesQty == "" || !num(e.LeavesQty).IsZero() || e.OrderLinkID == "" {
				continue
			}
			side := domain.SideBuy
			if strings.EqualFold(e.Side, "sell") {
				side = domain.SideSell
			}
			u.Fills = append(u.Fills, domain.Fill{
				Venue:         domain.VenueBybit,
				Symbol:        e.Symbol,
				ClientOrderID: e.OrderLinkID,
				Side:          side,
				Price:         num(e.ExecPrice),
				Size:          num(e.ExecQty),
			})
		}
	default:
		return domain.AccountUpdate{}, false
	}
	return u, !u.Empty()
}
