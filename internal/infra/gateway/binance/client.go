// Package binance implements the Binance spot-trade feed client.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/internal/integration"
	apperrors "github.com/barbosaigor/investrack/internal/shared/errors"
	"github.com/barbosaigor/investrack/pkg/logger"
)

const (
	defaultBaseURL = "https://api.binance.com"
	myTradesPath   = "/api/v3/myTrades"
	tradeLimit     = 1000
	recvWindow     = 10000
	requestTimeout = 30 * time.Second
)

// quoteAssets are the quote legs recognized when splitting a pair
// symbol, longest first so USDT wins over USD.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "BRL", "BTC", "ETH"}

// Client is an HTTP client for the Binance REST API. The myTrades
// endpoint is scoped per pair, so the client walks a configured symbol
// watchlist.
type Client struct {
	httpClient *http.Client
	baseURL    string
	symbols    []string
	logger     *logger.Logger
}

// NewClient creates a new Binance client over the given pair symbols.
func NewClient(log *logger.Logger, symbols []string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    defaultBaseURL,
		symbols:    symbols,
		logger:     log.WithField("component", "binance"),
	}
}

// SetBaseURL overrides the default base URL (useful for testing).
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// Name identifies the exchange on the integration registry.
func (c *Client) Name() string { return "binance" }

// Stream yields one batch per watched symbol. The first symbol is
// fetched synchronously so credential errors surface immediately.
func (c *Client) Stream(ctx context.Context, creds integration.Credentials, since time.Time) (<-chan integration.Batch, error) {
	if len(c.symbols) == 0 {
		ch := make(chan integration.Batch)
		close(ch)
		return ch, nil
	}

	first, err := c.fetchTrades(ctx, creds, c.symbols[0], since)
	if err != nil {
		return nil, err
	}

	ch := make(chan integration.Batch)
	go func() {
		defer close(ch)
		ch <- integration.Batch{Page: 1, Items: first}
		for i, symbol := range c.symbols[1:] {
			page := i + 2
			items, err := c.fetchTrades(ctx, creds, symbol, since)
			if err != nil {
				select {
				case ch <- integration.Batch{Page: page, Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- integration.Batch{Page: page, Items: items}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) fetchTrades(ctx context.Context, creds integration.Credentials, symbol string, since time.Time) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(tradeLimit))
	params.Set("recvWindow", strconv.Itoa(recvWindow))
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if !since.IsZero() {
		params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	query := params.Encode()
	query += "&signature=" + Sign(creds.APISecret, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+myTradesPath+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", creds.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Retryable("binance request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Retryable("failed to read binance response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.Unauthorized("binance rejected the credentials")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperrors.Retryable(fmt.Sprintf("binance returned status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.Fatal(fmt.Sprintf("binance returned status %d: %s", resp.StatusCode, body), nil)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, apperrors.Fatal("failed to decode binance response", err)
	}
	return items, nil
}

// Sign computes the hex-encoded HMAC-SHA256 of the query string.
func Sign(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

type trade struct {
	ID      int64           `json:"id"`
	Symbol  string          `json:"symbol"`
	IsBuyer bool            `json:"isBuyer"`
	Qty     decimal.Decimal `json:"qty"`
	Price   decimal.Decimal `json:"price"`
	Time    int64           `json:"time"`
}

// Parse validates one raw trade into the normalized shape. Binance
// pair symbols have no separator, so the quote leg is matched against
// the known quote assets.
func (c *Client) Parse(raw json.RawMessage) (integration.TradeItem, error) {
	var t trade
	if err := json.Unmarshal(raw, &t); err != nil {
		return integration.TradeItem{}, fmt.Errorf("invalid binance trade: %w", err)
	}
	if t.ID == 0 {
		return integration.TradeItem{}, errors.New("binance trade missing id")
	}
	code, quote, err := splitSymbol(t.Symbol)
	if err != nil {
		return integration.TradeItem{}, err
	}
	action := "SELL"
	if t.IsBuyer {
		action = "BUY"
	}
	return integration.TradeItem{
		ExternalID:    "binance:" + strconv.FormatInt(t.ID, 10),
		Code:          code,
		Currency:      quote,
		Action:        action,
		Quantity:      t.Qty,
		Price:         t.Price,
		OperationDate: time.UnixMilli(t.Time).UTC(),
	}, nil
}

func splitSymbol(symbol string) (code, quote string, err error) {
	for _, q := range quoteAssets {
		if base, ok := strings.CutSuffix(symbol, q); ok && base != "" {
			return base, q, nil
		}
	}
	return "", "", fmt.Errorf("unexpected binance symbol %q", symbol)
}
