// Package awesome implements the AwesomeAPI currency-rate client, the
// source for the USD to BRL conversion rate.
package awesome

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/barbosaigor/investrack/internal/shared/errors"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
)

const (
	defaultBaseURL = "https://economia.awesomeapi.com.br"
	requestTimeout = 30 * time.Second
)

// Client is an HTTP client for the AwesomeAPI exchange-rate feed.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logger.Logger
}

// NewClient creates a new AwesomeAPI client.
func NewClient(log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    defaultBaseURL,
		logger:     log.WithField("component", "awesome"),
	}
}

// SetBaseURL overrides the default base URL (useful for testing).
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

func isoCode(currency money.Currency) (string, error) {
	switch currency {
	case money.Dollar:
		return "USD", nil
	case money.Real:
		return "BRL", nil
	default:
		return "", fmt.Errorf("unsupported currency %q", currency)
	}
}

// FetchRate returns the latest bid rate for the currency pair.
func (c *Client) FetchRate(ctx context.Context, from, to money.Currency) (decimal.Decimal, error) {
	fromCode, err := isoCode(from)
	if err != nil {
		return decimal.Zero, err
	}
	toCode, err := isoCode(to)
	if err != nil {
		return decimal.Zero, err
	}
	pair := fromCode + "-" + toCode

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/json/last/"+pair, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, apperrors.Retryable("awesomeapi request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, apperrors.Retryable("failed to read awesomeapi response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, apperrors.Retryable(fmt.Sprintf("awesomeapi returned status %d", resp.StatusCode), nil)
	}

	// Response keys are the pair without the separator: {"USDBRL": {...}}.
	var parsed map[string]struct {
		Bid decimal.Decimal `json:"bid"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, apperrors.Fatal("failed to decode awesomeapi response", err)
	}
	entry, ok := parsed[fromCode+toCode]
	if !ok || !entry.Bid.IsPositive() {
		return decimal.Zero, apperrors.Fatal(fmt.Sprintf("awesomeapi returned no rate for %s", pair), nil)
	}
	return entry.Bid, nil
}
