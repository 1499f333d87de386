package bitget

import (
	"encoding/json"
	"strings"

	"arbitrage_go/internal/domain"
)

// Decoder parses Bitget V2 ticker, account and orders pushes.
type Decoder struct{}

// DecodeMarket implements domain.MarketDecoder for the ticker channel.
func (Decoder) DecodeMarket(raw []byte) (domain.BookUpdate, bool) {
	var msg pushMessage[tickerData]
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.BookUpdate{}, false
	}
	if msg.Arg.Channel != "ticker" || len(msg.Data) == 0 {
		return domain.BookUpdate{}, false
	}

	d := msg.Data[len(msg.Data)-1]
	u := domain.BookUpdate{Symbol: d.InstId}
	if bid := (domain.Level{Price: num(d.BidPr), Size: num(d.BidSz)}); bid.Valid() {
		u.Bid = &bid
	}
	if ask := (domain.Level{Price: num(d.AskPr), Size: num(d.AskSz)}); ask.Valid() {
		u.Ask = &ask
	}
	return u, !u.Empty()
}

// DecodeAccount implements domain.AccountDecoder. Only fully filled orders
// produce fills.
func (Decoder) DecodeAccount(raw []byte) (domain.AccountUpdate, bool) {
	var head struct {
		Arg subscribeArg `json:"arg"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return domain.AccountUpdate{}, false
	}

	var u domain.AccountUpdate
	switch head.Arg.Channel {
	case "account":
		var msg pushMessage[accountData]
		if err := json.Unmarshal(raw, &msg); err != nil {
			return domain.AccountUpdate{}, false
		}
		for _, a := range msg.Data {
			u.Balances = append(u.Balances, domain.BalanceChange{
				Asset:     strings.ToUpper(a.Coin),
				Available: num(a.Available),
			})
		}
	case "orders":
		var msg pushMessage[orderData]
		if err := json.Unmarshal(raw, &msg); err != nil {
			return domain.AccountUpdate{}, false
		}
		for _, o := range msg.Data {
			if o.Status != "filled" || o.ClientOid == "" {
				continue
			}
			side := domain.SideBuy
			if o.Side == "sell" {
				side = domain.SideSell
			}
			price := num(o.PriceAvg)
			if price.IsZero() {
				price = num(o.Price)
			}
			u.Fills = append(u.Fills, domain.Fill{
				Venue:         domain.VenueBitget,
				Symbol:        o.InstId,
				ClientOrderID: o.ClientOid,
				Side:          side,
				Price:         price,
				Size:          num(o.AccBaseVolume),
			})
		}
	default:
		return domain.AccountUpdate{}, false
	}
	return u, !u.Empty()
}
