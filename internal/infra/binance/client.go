package binance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"arbitrage_go/internal/domain"

	gbinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
)

const recvWindowMs = 60000

// Client wraps the go-binance spot client for order entry, balances and
// the user data stream listen key.
type Client struct {
	api    *gbinance.Client
	logger *slog.Logger
}

// NewClient creates a Binance client. An empty baseURL keeps the
// library's default endpoint.
func NewClient(apiKey, secret, baseURL string) *Client {
	api := gbinance.NewClient(apiKey, secret)
	api.HTTPClient = &http.Client{Timeout: 7 * time.Second}
	if baseURL != "" {
		api.BaseURL = baseURL
	}
	return &Client{
		api:    api,
		logger: slog.Default().With("module", "binance_client"),
	}
}

// SubmitOrder implements domain.OrderGateway. Exchange-side refusals and
// an expired fill-or-kill come back as rejections, not errors.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	side := gbinance.SideTypeBuy
	if req.Side == domain.SideSell {
		side = gbinance.SideTypeSell
	}
	tif := gbinance.TimeInForceTypeGTC
	if req.TimeInForce == domain.TimeInForceFOK {
		tif = gbinance.TimeInForceTypeFOK
	}

	res, err := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(gbinance.OrderTypeLimit).
		TimeInForce(tif).
		Quantity(req.Size.String()).
		Price(req.Price.String()).
		NewClientOrderID(req.ClientOrderID).
		Do(ctx, gbinance.WithRecvWindow(recvWindowMs))
	if err != nil {
		var apiErr *common.APIError
		// a 5xx without a JSON body still surfaces as an APIError with no code
		if errors.As(err, &apiErr) && apiErr.Code != 0 {
			c.logger.Warn("Order rejected",
				slog.String("tag", req.ClientOrderID),
				slog.Int64("code", apiErr.Code),
				slog.String("msg", apiErr.Message))
			return domain.Rejected(fmt.Sprintf("%d %s", apiErr.Code, apiErr.Message)), nil
		}
		return domain.OrderAck{}, domain.NewNetworkError("binance create order", err)
	}

	switch res.Status {
	case gbinance.OrderStatusTypeExpired, gbinance.OrderStatusTypeRejected:
		return domain.Rejected(string(res.Status)), nil
	}

	orderID := strconv.FormatInt(res.OrderID, 10)
	c.logger.Info("Order placed",
		slog.String("oid", orderID),
		slog.String("tag", req.ClientOrderID),
		slog.String("status", string(res.Status)))
	return domain.Accepted(orderID), nil
}

// GetBalances implements domain.BalanceSource with free balances.
func (c *Client) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	acct, err := c.api.NewGetAccountService().Do(ctx, gbinance.WithRecvWindow(recvWindowMs))
	if err != nil {
		return nil, fmt.Errorf("binance account: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(acct.Balances))
	for _, b := range acct.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		out[b.Asset] = free
	}
	return out, nil
}

// StartUserStream returns a fresh listen key for the account stream.
func (c *Client) StartUserStream(ctx context.Context) (string, error) {
	key, err := c.api.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", domain.NewNetworkError("binance start user stream", err)
	}
	return key, nil
}

// KeepaliveUserStream extends the listen key's validity.
func (c *Client) KeepaliveUserStream(ctx context.Context, listenKey string) error {
	return c.api.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx)
}
