// Package kucoin implements the KuCoin spot-trade feed client.
package kucoin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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
	defaultBaseURL = "https://api.kucoin.com"
	fillsPath      = "/api/v1/fills"
	pageSize       = 100
	requestTimeout = 30 * time.Second
)

// Client is an HTTP client for the KuCoin REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logger.Logger
}

// NewClient creates a new KuCoin client.
func NewClient(log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    defaultBaseURL,
		logger:     log.WithField("component", "kucoin"),
	}
}

// SetBaseURL overrides the default base URL (useful for testing).
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// Name identifies the exchange on the integration registry.
func (c *Client) Name() string { return "kucoin" }

type fillsResponse struct {
	Code string `json:"code"`
	Data struct {
		CurrentPage int               `json:"currentPage"`
		TotalPage   int               `json:"totalPage"`
		Items       []json.RawMessage `json:"items"`
	} `json:"data"`
}

// Stream walks the paginated fills feed, one batch per page.
func (c *Client) Stream(ctx context.Context, creds integration.Credentials, since time.Time) (<-chan integration.Batch, error) {
	// First page fetched synchronously so auth errors surface before
	// the caller starts consuming.
	first, err := c.fetchPage(ctx, creds, since, 1)
	if err != nil {
		return nil, err
	}

	ch := make(chan integration.Batch)
	go func() {
		defer close(ch)
		ch <- integration.Batch{Page: 1, Items: first.Data.Items}
		for page := 2; page <= first.Data.TotalPage; page++ {
			resp, err := c.fetchPage(ctx, creds, since, page)
			if err != nil {
				select {
				case ch <- integration.Batch{Page: page, Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- integration.Batch{Page: page, Items: resp.Data.Items}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) fetchPage(ctx context.Context, creds integration.Credentials, since time.Time, page int) (*fillsResponse, error) {
	params := url.Values{}
	params.Set("currentPage", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(pageSize))
	if !since.IsZero() {
		params.Set("startAt", strconv.FormatInt(since.UnixMilli(), 10))
	}
	query := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+fillsPath+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	signRequest(req, creds, http.MethodGet, fillsPath+"?"+query)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Retryable("kucoin request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Retryable("failed to read kucoin response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.Unauthorized("kucoin rejected the credentials")
	case resp.StatusCode >= 500:
		return nil, apperrors.Retryable(fmt.Sprintf("kucoin returned status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.Fatal(fmt.Sprintf("kucoin returned status %d: %s", resp.StatusCode, body), nil)
	}

	var parsed fillsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.Fatal("failed to decode kucoin response", err)
	}
	if parsed.Code != "200000" {
		return nil, apperrors.Fatal(fmt.Sprintf("kucoin error code %s", parsed.Code), nil)
	}
	return &parsed, nil
}

// signRequest sets the KuCoin authentication headers: the signature is
// base64(HMAC-SHA256(timestamp + method + path-with-query)).
func signRequest(req *http.Request, creds integration.Credentials, method, pathWithQuery string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("KC-API-KEY", creds.APIKey)
	req.Header.Set("KC-API-TIMESTAMP", timestamp)
	req.Header.Set("KC-API-PASSPHRASE", creds.Passphrase)
	req.Header.Set("KC-API-SIGN", Sign(creds.APISecret, timestamp+method+pathWithQuery))
}

// Sign computes the base64-encoded HMAC-SHA256 of the payload.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type fill struct {
	TradeID   string          `json:"tradeId"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt int64           `json:"createdAt"`
}

// Parse validates one raw fill into the normalized trade shape. The
// symbol pair "BTC-USDT" splits into code and quote currency.
func (c *Client) Parse(raw json.RawMessage) (integration.TradeItem, error) {
	var f fill
	if err := json.Unmarshal(raw, &f); err != nil {
		return integration.TradeItem{}, fmt.Errorf("invalid kucoin fill: %w", err)
	}
	if f.TradeID == "" {
		return integration.TradeItem{}, errors.New("kucoin fill missing trade id")
	}
	code, quote, ok := strings.Cut(f.Symbol, "-")
	if !ok {
		return integration.TradeItem{}, fmt.Errorf("unexpected kucoin symbol %q", f.Symbol)
	}
	return integration.TradeItem{
		ExternalID:    "kucoin:" + f.TradeID,
		Code:          code,
		Currency:      quote,
		Action:        strings.ToUpper(f.Side),
		Quantity:      f.Size,
		Price:         f.Price,
		OperationDate: time.UnixMilli(f.CreatedAt).UTC(),
	}, nil
}
