// Package redis holds the shared conversion-rate cache: a process-local
// map in front of Redis, with write-through to the persistent singleton
// store.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
)

const (
	// DefaultTTL bounds how long a shared rate entry lives without a
	// refresh. The value drifts slowly, so staleness is tolerated.
	DefaultTTL = 24 * time.Hour

	// KeyPrefix is the prefix for conversion-rate cache keys.
	KeyPrefix = "rate:"
)

// RateProvider fetches a fresh rate from an external quote source.
type RateProvider interface {
	FetchRate(ctx context.Context, from, to money.Currency) (decimal.Decimal, error)
}

// RateCache layers a process-local map over Redis over the persistent
// rate store. Reads prefer the local map; writers serialize on a lock
// and write through every layer.
type RateCache struct {
	client   *redis.Client
	repo     domain.RateRepository
	provider RateProvider
	logger   *logger.Logger
	ttl      time.Duration

	mu    sync.RWMutex
	local map[string]*domain.ConversionRate
}

// NewRateCache creates a rate cache.
func NewRateCache(client *redis.Client, repo domain.RateRepository, provider RateProvider, log *logger.Logger) *RateCache {
	return &RateCache{
		client:   client,
		repo:     repo,
		provider: provider,
		logger:   log.WithField("component", "rate_cache"),
		ttl:      DefaultTTL,
		local:    make(map[string]*domain.ConversionRate),
	}
}

type cachedRate struct {
	Rate      string    `json:"rate"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Get returns the rate for the pair. Misses fall through to Redis and
// then the persistent store, memoizing on the way back. A rate missing
// everywhere returns domain.ErrNotFound.
func (c *RateCache) Get(ctx context.Context, from, to money.Currency) (decimal.Decimal, error) {
	key := rateKey(from, to)

	c.mu.RLock()
	if rate, ok := c.local[key]; ok {
		c.mu.RUnlock()
		return rate.Rate, nil
	}
	c.mu.RUnlock()

	if rate, updatedAt, ok := c.getRedis(ctx, key); ok {
		c.memoize(key, &domain.ConversionRate{From: from, To: to, Rate: rate, UpdatedAt: updatedAt})
		return rate, nil
	}

	stored, err := c.repo.Get(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	c.Set(ctx, stored)
	return stored.Rate, nil
}

// Set writes the rate to the local map and Redis. Redis failures are
// logged and tolerated: the local value still serves this process.
func (c *RateCache) Set(ctx context.Context, rate *domain.ConversionRate) {
	key := rateKey(rate.From, rate.To)
	c.memoize(key, rate)

	data, err := json.Marshal(cachedRate{Rate: rate.Rate.String(), UpdatedAt: rate.UpdatedAt})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Error("cache error", "operation", "set", "key", key, "error", err)
	}
}

// Update refetches the rate from the provider, writes the persistent
// store and both cache layers, and returns the new value.
func (c *RateCache) Update(ctx context.Context, from, to money.Currency) (decimal.Decimal, error) {
	fresh, err := c.provider.FetchRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch rate %s/%s: %w", from, to, err)
	}

	rate := &domain.ConversionRate{From: from, To: to, Rate: fresh, UpdatedAt: time.Now().UTC()}
	if err := c.repo.Upsert(ctx, rate); err != nil {
		return decimal.Zero, err
	}
	c.Set(ctx, rate)
	return fresh, nil
}

func (c *RateCache) getRedis(ctx context.Context, key string) (decimal.Decimal, time.Time, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return decimal.Zero, time.Time{}, false
	}
	if err != nil {
		c.logger.Error("cache error", "operation", "get", "key", key, "error", err)
		return decimal.Zero, time.Time{}, false
	}

	var cached cachedRate
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return decimal.Zero, time.Time{}, false
	}
	rate, err := decimal.NewFromString(cached.Rate)
	if err != nil {
		return decimal.Zero, time.Time{}, false
	}
	return rate, cached.UpdatedAt, true
}

func (c *RateCache) memoize(key string, rate *domain.ConversionRate) {
	c.mu.Lock()
	c.local[key] = rate
	c.mu.Unlock()
}

func rateKey(from, to money.Currency) string {
	return fmt.Sprintf("%s%s:%s", KeyPrefix, from, to)
}
