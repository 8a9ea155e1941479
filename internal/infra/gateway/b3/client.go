// Package b3 implements the B3 investor-movements feed client.
package b3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/internal/integration"
	apperrors "github.com/barbosaigor/investrack/internal/shared/errors"
	"github.com/barbosaigor/investrack/pkg/logger"
)

const (
	defaultBaseURL  = "https://apib3i-cert.b3.com.br"
	defaultTokenURL = "https://auth.b3.com.br/oauth/token"
	movementsPath   = "/api/movement/v2/movements"
	requestTimeout  = 30 * time.Second

	// Page fan-out shrinks on large backfills so the provider's rate
	// limits are not tripped.
	mediumSyncThreshold   = 100
	mediumSyncConcurrency = 10
	largeSyncThreshold    = 500
	largeSyncConcurrency  = 5

	dateLayout = "2006-01-02"
)

// movementActions maps B3 movement type names to trade actions.
// Unlisted types (bonifications, transfers) are skipped by Parse.
var movementActions = map[string]string{
	"compra": "BUY",
	"venda":  "SELL",
}

// Client is an HTTP client for the B3 movements API. Sessions are
// OAuth2 client-credentials tokens cached until expiry.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokenURL   string
	logger     *logger.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a new B3 client.
func NewClient(log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    defaultBaseURL,
		tokenURL:   defaultTokenURL,
		logger:     log.WithField("component", "b3"),
	}
}

// SetBaseURL overrides the API and token base URLs (useful for testing).
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
	c.tokenURL = url + "/oauth/token"
}

// Name identifies the exchange on the integration registry.
func (c *Client) Name() string { return "b3" }

// RefreshSession drops the cached token and fetches a fresh one.
func (c *Client) RefreshSession(ctx context.Context, creds integration.Credentials) error {
	c.mu.Lock()
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
	_, err := c.token(ctx, creds)
	return err
}

type pageLinks struct {
	Self string `json:"self"`
	Last string `json:"last"`
}

type movementsPage struct {
	Links     pageLinks         `json:"links"`
	Movements []json.RawMessage `json:"movements"`
}

// Stream fetches all movement pages and emits one batch per reference
// date, oldest first. Pages are fetched in bounded concurrent windows
// but results are emitted in order so progress tracking stays
// monotonic.
func (c *Client) Stream(ctx context.Context, creds integration.Credentials, since time.Time) (<-chan integration.Batch, error) {
	first, err := c.fetchPage(ctx, creds, since, 1)
	if err != nil {
		return nil, err
	}
	totalPages, err := lastPage(first.Links)
	if err != nil {
		return nil, apperrors.Fatal("failed to parse b3 pagination links", err)
	}

	ch := make(chan integration.Batch)
	go func() {
		defer close(ch)
		if !c.emitPage(ctx, ch, 1, first.Movements) {
			return
		}
		conc := concurrencyFor(totalPages)
		for window := 2; window <= totalPages; window += conc {
			end := window + conc
			if end > totalPages+1 {
				end = totalPages + 1
			}
			pages := make([]*movementsPage, end-window)
			errs := make([]error, end-window)
			var wg sync.WaitGroup
			for i := window; i < end; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					pages[i-window], errs[i-window] = c.fetchPage(ctx, creds, since, i)
				}(i)
			}
			wg.Wait()
			for i := window; i < end; i++ {
				if errs[i-window] != nil {
					select {
					case ch <- integration.Batch{Page: i, Err: errs[i-window]}:
					case <-ctx.Done():
					}
					return
				}
				if !c.emitPage(ctx, ch, i, pages[i-window].Movements) {
					return
				}
			}
		}
	}()
	return ch, nil
}

// emitPage groups one page's movements by reference date and sends a
// batch per date. Reports false when the context is done.
func (c *Client) emitPage(ctx context.Context, ch chan<- integration.Batch, page int, items []json.RawMessage) bool {
	byDate := make(map[string][]json.RawMessage)
	for _, raw := range items {
		var probe struct {
			ReferenceDate string `json:"referenceDate"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil || probe.ReferenceDate == "" {
			// Undated items still flow through so Parse can reject them.
			byDate[""] = append(byDate[""], raw)
			continue
		}
		byDate[probe.ReferenceDate] = append(byDate[probe.ReferenceDate], raw)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		refDate, _ := time.Parse(dateLayout, d)
		select {
		case ch <- integration.Batch{ReferenceDate: refDate, Page: page, Items: byDate[d]}:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func concurrencyFor(totalPages int) int {
	switch {
	case totalPages > largeSyncThreshold:
		return largeSyncConcurrency
	case totalPages > mediumSyncThreshold:
		return mediumSyncConcurrency
	default:
		return 1
	}
}

// lastPage extracts the page count from the HAL "last" link, falling
// back to "self" when the feed fits a single page.
func lastPage(links pageLinks) (int, error) {
	ref := links.Last
	if ref == "" {
		ref = links.Self
	}
	if ref == "" {
		return 1, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return 0, err
	}
	page := u.Query().Get("page")
	if page == "" {
		return 1, nil
	}
	return strconv.Atoi(page)
}

func (c *Client) fetchPage(ctx context.Context, creds integration.Credentials, since time.Time, page int) (*movementsPage, error) {
	token, err := c.token(ctx, creds)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	if !since.IsZero() {
		params.Set("referenceStartDate", since.Format(dateLayout))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+movementsPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Retryable("b3 request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Retryable("failed to read b3 response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.Unauthorized("b3 rejected the session token")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperrors.Retryable(fmt.Sprintf("b3 returned status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.Fatal(fmt.Sprintf("b3 returned status %d: %s", resp.StatusCode, body), nil)
	}

	var parsed movementsPage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.Fatal("failed to decode b3 response", err)
	}
	return &parsed, nil
}

// token returns the cached access token, fetching a new one through the
// client-credentials grant when missing or expired.
func (c *Client) token(ctx context.Context, creds integration.Credentials) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", creds.APIKey)
	form.Set("client_secret", creds.APISecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Retryable("b3 token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.Retryable("failed to read b3 token response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.Unauthorized(fmt.Sprintf("b3 token request returned status %d", resp.StatusCode))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", apperrors.Fatal("failed to decode b3 token response", err)
	}

	c.accessToken = tok.AccessToken
	// Renew a minute early to avoid in-flight expiry.
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

type movement struct {
	ReferenceDate string          `json:"referenceDate"`
	MovementType  string          `json:"movementType"`
	TickerSymbol  string          `json:"tickerSymbol"`
	Quantity      decimal.Decimal `json:"equitiesQuantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
}

// Parse validates one raw movement into the normalized shape. B3 has no
// per-movement identifier, so the external id is derived from the
// movement's own fields, which is stable across re-syncs.
func (c *Client) Parse(raw json.RawMessage) (integration.TradeItem, error) {
	var m movement
	if err := json.Unmarshal(raw, &m); err != nil {
		return integration.TradeItem{}, fmt.Errorf("invalid b3 movement: %w", err)
	}
	if m.TickerSymbol == "" {
		return integration.TradeItem{}, errors.New("b3 movement missing ticker")
	}
	action, ok := movementActions[strings.ToLower(strings.TrimSpace(m.MovementType))]
	if !ok {
		return integration.TradeItem{}, fmt.Errorf("unsupported b3 movement type %q", m.MovementType)
	}
	refDate, err := time.Parse(dateLayout, m.ReferenceDate)
	if err != nil {
		return integration.TradeItem{}, fmt.Errorf("invalid b3 reference date: %w", err)
	}
	externalID := fmt.Sprintf("b3:%s:%s:%s:%s:%s",
		m.TickerSymbol, m.ReferenceDate, action, m.Quantity.String(), m.UnitPrice.String())
	return integration.TradeItem{
		ExternalID:    externalID,
		Code:          strings.ToUpper(m.TickerSymbol),
		Currency:      "BRL",
		Action:        action,
		Quantity:      m.Quantity,
		Price:         m.UnitPrice,
		OperationDate: refDate,
	}, nil
}
