// Package integration reconciles exchange trade history into domain
// transactions.
package integration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Credentials are a user's decrypted exchange API secrets.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Batch is one page of raw provider items. Date-grouped providers (B3)
// emit one batch per reference date as it arrives, so a later-page
// failure preserves earlier progress. A failed page carries Err and no
// items.
type Batch struct {
	ReferenceDate time.Time
	Page          int
	Items         []json.RawMessage
	Err           error
}

// TradeItem is a provider trade normalized to the ingestion shape.
type TradeItem struct {
	ExternalID    string
	Code          string
	Currency      string
	Action        string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	OperationDate time.Time
}

// ExchangeClient streams a provider's paginated trade feed and parses
// its raw items. Parsing stays per-item so one malformed record never
// poisons a page.
type ExchangeClient interface {
	Name() string
	// Stream yields batches of raw trades since the given time. The
	// channel closes when the feed is exhausted or ctx is done.
	Stream(ctx context.Context, creds Credentials, since time.Time) (<-chan Batch, error)
	// Parse validates one raw item into the normalized trade shape.
	Parse(raw json.RawMessage) (TradeItem, error)
}

// SessionRefresher is implemented by clients whose sessions can be
// re-established after an authentication failure (OAuth token expiry).
type SessionRefresher interface {
	RefreshSession(ctx context.Context, creds Credentials) error
}
