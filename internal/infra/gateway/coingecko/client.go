// Package coingecko implements the CoinGecko quote client for crypto
// assets, quoted in BRL or USD.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/barbosaigor/investrack/internal/shared/errors"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
)

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"
	simplePricePath = "/simple/price"
	headerAPIKey   = "x-cg-demo-api-key"
	requestTimeout = 30 * time.Second
)

// Client is an HTTP client for the CoinGecko API. Quotes are requested
// by coin id, so ticker symbols are translated through the id table
// before the call and back after it.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	logger     *logger.Logger
}

// NewClient creates a new CoinGecko client.
func NewClient(apiKey string, log *logger.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    defaultBaseURL,
		logger:     log.WithField("component", "coingecko"),
	}
}

// SetBaseURL overrides the default base URL (useful for testing).
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

func vsCurrency(currency money.Currency) string {
	if currency == money.Real {
		return "brl"
	}
	return "usd"
}

// Quotes fetches current prices for the given ticker symbols in the
// requested currency. Symbols without a known coin id are skipped.
func (c *Client) Quotes(ctx context.Context, codes []string, currency money.Currency) (map[string]decimal.Decimal, error) {
	ids := make([]string, 0, len(codes))
	symbolByID := make(map[string]string, len(codes))
	for _, code := range codes {
		id, ok := CoinID(code)
		if !ok {
			c.logger.Debug("no coingecko id for symbol", "symbol", code)
			continue
		}
		ids = append(ids, id)
		symbolByID[id] = strings.ToUpper(code)
	}
	if len(ids) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	vs := vsCurrency(currency)
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", vs)
	params.Set("precision", "8")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+simplePricePath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Retryable("coingecko request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Retryable("failed to read coingecko response", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, apperrors.Retryable(fmt.Sprintf("coingecko returned status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Fatal(fmt.Sprintf("coingecko returned status %d: %s", resp.StatusCode, body), nil)
	}

	var parsed map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.Fatal("failed to decode coingecko response", err)
	}

	quotes := make(map[string]decimal.Decimal, len(parsed))
	for id, prices := range parsed {
		symbol, ok := symbolByID[id]
		if !ok {
			continue
		}
		price, ok := prices[vs]
		if !ok || !price.IsPositive() {
			continue
		}
		quotes[symbol] = price
	}
	return quotes, nil
}
