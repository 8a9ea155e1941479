// Package brapi implements the brapi.dev quote client for B3-listed
// tickers (stocks and FIIs, quoted in BRL).
package brapi

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
	defaultBaseURL = "https://brapi.dev"
	quotePath      = "/api/quote/"
	requestTimeout = 30 * time.Second
)

// Client is an HTTP client for the brapi quote API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *logger.Logger
}

// NewClient creates a new brapi client.
func NewClient(token string, log *logger.Logger) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    defaultBaseURL,
		logger:     log.WithField("component", "brapi"),
	}
}

// SetBaseURL overrides the default base URL (useful for testing).
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

type quoteResponse struct {
	Results []struct {
		Symbol             string          `json:"symbol"`
		RegularMarketPrice decimal.Decimal `json:"regularMarketPrice"`
	} `json:"results"`
}

// Quotes fetches current BRL prices for the given tickers. Tickers the
// provider does not know are absent from the result.
func (c *Client) Quotes(ctx context.Context, codes []string, _ money.Currency) (map[string]decimal.Decimal, error) {
	if len(codes) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	params := url.Values{}
	params.Set("token", c.token)
	reqURL := c.baseURL + quotePath + url.PathEscape(strings.Join(codes, ",")) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Retryable("brapi request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Retryable("failed to read brapi response", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, apperrors.Retryable(fmt.Sprintf("brapi returned status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Fatal(fmt.Sprintf("brapi returned status %d: %s", resp.StatusCode, body), nil)
	}

	var parsed quoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.Fatal("failed to decode brapi response", err)
	}

	quotes := make(map[string]decimal.Decimal, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.RegularMarketPrice.IsPositive() {
			quotes[strings.ToUpper(r.Symbol)] = r.RegularMarketPrice
		}
	}
	return quotes, nil
}
