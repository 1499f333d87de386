package bitget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Bitget API Constants
const (
	BaseURLMainnet = "https://api.bitget.com"
)

// Client is the Bitget V2 spot REST client (order entry and balances).
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a new Bitget API client. An empty baseURL means mainnet.
func NewClient(accessKey, secretKey, passphrase, baseURL string) *Client {
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
		signer:  NewSigner(accessKey, secretKey, passphrase),
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		logger:  slog.Default().With("module", "bitget_client"),
	}
}

// Signer exposes the signer for the private stream login.
func (c *Client) Signer() *Signer { return c.signer }

// placeOrderRequest - Internal Struct for JSON Marshaling
type placeOrderRequest struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`      // buy, sell
	OrderType     string `json:"orderType"` // limit
	Force         string `json:"force"`     // fok, gtc
	Price         string `json:"price"`
	Size          string `json:"size"`
	ClientOrderId string `json:"clientOid"`
}

// SubmitOrder implements domain.OrderGateway. A business error code is a
// rejection; only transport failures are returned as errors.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	reqBody := placeOrderRequest{
		Symbol:        req.Symbol,
		Side:          strings.ToLower(string(req.Side)),
		OrderType:     "limit",
		Force:         strings.ToLower(string(req.TimeInForce)),
		Price:         req.Price.String(),
		Size:          req.Size.String(),
		ClientOrderId: req.ClientOrderID,
	}

	var data placeOrderData
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v2/spot/trade/place-order", nil, reqBody, &data)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("bitget place order failed: %w", err)
	}
	if resp.Code != successCode {
		c.logger.Warn("Order rejected",
			slog.String("tag", req.ClientOrderID),
			slog.String("code", resp.Code),
			slog.String("msg", resp.Msg))
		return domain.Rejected(resp.Code + " " + resp.Msg), nil
	}

	c.logger.Info("Order Placed Successfully", "oid", data.OrderId, "tag", req.ClientOrderID, "symbol", req.Symbol)
	return domain.Accepted(data.OrderId), nil
}

// GetBalances implements domain.BalanceSource.
func (c *Client) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	var data []assetData
	query := url.Values{"assetType": {"hold_only"}}
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v2/spot/account/assets", query, nil, &data)
	if err != nil {
		return nil, err
	}
	if resp.Code != successCode {
		return nil, fmt.Errorf("bitget business error: code=%s msg=%s", resp.Code, resp.Msg)
	}

	out := make(map[string]decimal.Decimal, len(data))
	for _, a := range data {
		out[strings.ToUpper(a.Coin)] = num(a.Available)
	}
	return out, nil
}

// doRequest handles Auth headers and serialization. data receives the
// envelope's data field when the call succeeded.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, data any) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonBytes)
		bodyStr = string(jsonBytes)
	}

	queryStr := query.Encode()
	reqURL := c.baseURL + path
	if queryStr != "" {
		reqURL += "?" + queryStr
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}

	// Sign Request
	for k, v := range c.signer.GenerateHeaders(method, path, queryStr, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("bitget "+path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError("bitget "+path, err)
	}

	var envelope struct {
		apiResponse
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, domain.NewNetworkError("bitget "+path,
				fmt.Errorf("status=%d body=%s", resp.StatusCode, string(bodyBytes)))
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Bitget answers business errors with 4xx plus a code; those are
	// rejections. Anything without a code is a transport problem.
	if envelope.Code == "" {
		return nil, domain.NewNetworkError("bitget "+path,
			fmt.Errorf("status=%d body=%s", resp.StatusCode, string(bodyBytes)))
	}
	if envelope.Code == successCode && data != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, data); err != nil {
			return nil, fmt.Errorf("failed to parse data: %w", err)
		}
	}
	return &envelope.apiResponse, nil
}

func num(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
