package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	BaseURLMainnet = "https://api.bybit.com"
	BaseURLTestnet = "https://api-testnet.bybit.com"

	recvWindowMs = 60000
)

// Client is the Bybit v5 REST client for spot order entry and balances.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a Bybit client. An empty baseURL means mainnet.
func NewClient(apiKey, secret, baseURL string) *Client {
	if baseURL == "" {
		baseURL = BaseURLMainnet
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer:  NewSigner(apiKey, secret, recvWindowMs),
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		logger:  slog.Default().With("module", "bybit_client"),
	}
}

// Signer exposes the request signer for the private stream.
func (c *Client) Signer() *Signer { return c.signer }

type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type createOrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price"`
	TimeInForce string `json:"timeInForce"`
	OrderLinkID string `json:"orderLinkId"`
}

// SubmitOrder implements domain.OrderGateway. A non-zero retCode is a
// rejection, not an error.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	side := "Buy"
	if req.Side == domain.SideSell {
		side = "Sell"
	}
	body := createOrderRequest{
		Category:    "spot",
		Symbol:      req.Symbol,
		Side:        side,
		OrderType:   "Limit",
		Qty:         req.Size.String(),
		Price:       req.Price.String(),
		TimeInForce: string(req.TimeInForce),
		OrderLinkID: req.ClientOrderID,
	}

	resp, err := c.do(ctx, http.MethodPost, "/v5/order/create", nil, body)
	if err != nil {
		return domain.OrderAck{}, err
	}
	if resp.RetCode != 0 {
		c.logger.Warn("Order rejected",
			slog.String("tag", req.ClientOrderID),
			slog.Int("code", resp.RetCode),
			slog.String("msg", resp.RetMsg))
		return domain.Rejected(fmt.Sprintf("%d %s", resp.RetCode, resp.RetMsg)), nil
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return domain.OrderAck{}, fmt.Errorf("bybit: parse order result: %w", err)
	}
	c.logger.Info("Order placed", slog.String("oid", result.OrderID), slog.String("tag", req.ClientOrderID))
	return domain.Accepted(result.OrderID), nil
}

type walletCoin struct {
	Coin          string `json:"coin"`
	WalletBalance string `json:"walletBalance"`
	Locked        string `json:"locked"`
}

// Available is walletBalance minus locked. Empty fields count as zero.
func (c walletCoin) Available() decimal.Decimal {
	return num(c.WalletBalance).Sub(num(c.Locked))
}

func num(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// GetBalances implements domain.BalanceSource for the unified account.
func (c *Client) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	query := url.Values{"accountType": {"UNIFIED"}}
	resp, err := c.do(ctx, http.MethodGet, "/v5/account/wallet-balance", query, nil)
	if err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit: wallet balance: %d %s", resp.RetCode, resp.RetMsg)
	}

	var result struct {
		List []struct {
			Coin []walletCoin `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("bybit: parse wallet balance: %w", err)
	}

	out := make(map[string]decimal.Decimal)
	for _, acct := range result.List {
		for _, coin := range acct.Coin {
			out[coin.Coin] = coin.Available()
		}
	}
	return out, nil
}

// do handles rate limiting, signing and envelope decoding.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	payload := query.Encode()
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
		payload = string(b)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range c.signer.GenerateHeaders(payload) {
		req.Header.Set(k, v)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("bybit "+path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, domain.NewNetworkError("bybit "+path, err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, domain.NewNetworkError("bybit "+path,
			fmt.Errorf("status=%d body=%s", res.StatusCode, string(raw)))
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("bybit: parse response: %w", err)
	}
	return &out, nil
}
