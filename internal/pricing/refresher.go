// Package pricing refreshes shared metadata prices from market data
// providers and fans the updates out to the projection.
package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/internal/bus"
	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
)

// QuoteSource fetches current prices for a set of asset codes in the
// given currency. A code missing from the result map simply keeps its
// previous price.
type QuoteSource interface {
	Quotes(ctx context.Context, codes []string, currency money.Currency) (map[string]decimal.Decimal, error)
}

// Bucket routes a (type, currency) pair to its quote source.
type Bucket struct {
	Type     domain.AssetType
	Currency money.Currency
}

// Refresher updates stale metadata prices bucket by bucket. Buckets
// fail independently: one provider being down never blocks the others.
type Refresher struct {
	metadata domain.MetadataRepository
	bus      *bus.Bus
	sources  map[Bucket]QuoteSource
	cooldown time.Duration
	logger   *logger.Logger
}

// NewRefresher creates a price refresher. Sources are attached with
// RegisterSource.
func NewRefresher(metadata domain.MetadataRepository, b *bus.Bus, cooldown time.Duration, log *logger.Logger) *Refresher {
	return &Refresher{
		metadata: metadata,
		bus:      b,
		sources:  make(map[Bucket]QuoteSource),
		cooldown: cooldown,
		logger:   log.WithField("component", "pricing"),
	}
}

// RegisterSource routes one (type, currency) bucket to a quote source.
func (r *Refresher) RegisterSource(typ domain.AssetType, currency money.Currency, src QuoteSource) {
	r.sources[Bucket{Type: typ, Currency: currency}] = src
}

// Refresh fetches quotes for every stale metadata row with an open
// position and publishes AssetUpdated for each affected asset. Returns
// the number of rows whose price was written.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	rows, err := r.metadata.ListEligibleForRefresh(ctx, r.cooldown)
	if err != nil {
		return 0, fmt.Errorf("failed to list refreshable metadata: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	byBucket := make(map[Bucket][]*domain.AssetMetaData)
	for _, md := range rows {
		b := Bucket{Type: md.Type, Currency: md.Currency}
		byBucket[b] = append(byBucket[b], md)
	}

	var (
		mu      sync.Mutex
		updated []*domain.AssetMetaData
		wg      sync.WaitGroup
	)
	for b, group := range byBucket {
		src, ok := r.sources[b]
		if !ok {
			r.logger.Debug("no quote source for bucket",
				"type", string(b.Type), "currency", string(b.Currency), "rows", len(group))
			continue
		}
		wg.Add(1)
		go func(b Bucket, group []*domain.AssetMetaData, src QuoteSource) {
			defer wg.Done()
			codes := make([]string, len(group))
			for i, md := range group {
				codes[i] = md.Code
			}
			quotes, err := src.Quotes(ctx, codes, b.Currency)
			if err != nil {
				// Partial success: a failed bucket is logged and skipped.
				r.logger.WithError(err).Warn("quote bucket failed",
					"type", string(b.Type), "currency", string(b.Currency))
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, md := range group {
				price, ok := quotes[md.Code]
				if !ok || !price.IsPositive() {
					continue
				}
				md.CurrentPrice = price
				updated = append(updated, md)
			}
		}(b, group, src)
	}
	wg.Wait()

	if len(updated) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	if err := r.metadata.BatchUpdatePrices(ctx, updated, now); err != nil {
		return 0, fmt.Errorf("failed to write refreshed prices: %w", err)
	}

	assets, err := r.metadata.AssetIDsForMetadata(ctx, updated)
	if err != nil {
		return len(updated), fmt.Errorf("failed to resolve assets for refreshed prices: %w", err)
	}
	for assetID, userID := range assets {
		r.bus.Publish(ctx, domain.AssetUpdated{AssetID: assetID, UserID: userID})
	}
	return len(updated), nil
}
