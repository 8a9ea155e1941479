// Package twelvedata implements the Twelve Data quote client for US
// tickers, quoted in USD.
package twelvedata

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
	defaultBaseURL = "https://api.twelvedata.com"
	pricePath      = "/price"
	requestTimeout = 30 * time.Second
)

// Client is an HTTP client for the Twelve Data API.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	logger     *logger.Logger
}

// NewClient creates a new Twelve Data client.
func NewClient(apiKey string, log *logger.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    defaultBaseURL,
		logger:     log.WithField("component", "twelvedata"),
	}
}

// SetBaseURL overrides the default base URL (useful for testing).
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

type priceEntry struct {
	Price decimal.Decimal `json:"price"`
}

// Quotes fetches current USD prices for the given symbols. The provider
// flattens single-symbol responses, so both shapes are handled.
func (c *Client) Quotes(ctx context.Context, codes []string, _ money.Currency) (map[string]decimal.Decimal, error) {
	if len(codes) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	params := url.Values{}
	params.Set("symbol", strings.Join(codes, ","))
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pricePath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Retryable("twelvedata request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Retryable("failed to read twelvedata response", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, apperrors.Retryable(fmt.Sprintf("twelvedata returned status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Fatal(fmt.Sprintf("twelvedata returned status %d: %s", resp.StatusCode, body), nil)
	}

	quotes := make(map[string]decimal.Decimal, len(codes))
	if len(codes) == 1 {
		var single priceEntry
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, apperrors.Fatal("failed to decode twelvedata response", err)
		}
		if single.Price.IsPositive() {
			quotes[strings.ToUpper(codes[0])] = single.Price
		}
		return quotes, nil
	}

	var multi map[string]priceEntry
	if err := json.Unmarshal(body, &multi); err != nil {
		return nil, apperrors.Fatal("failed to decode twelvedata response", err)
	}
	for symbol, entry := range multi {
		if entry.Price.IsPositive() {
			quotes[strings.ToUpper(symbol)] = entry.Price
		}
	}
	return quotes, nil
}
