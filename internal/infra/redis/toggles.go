package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/barbosaigor/investrack/pkg/logger"
)

const (
	// ToggleKeyPrefix is the prefix for feature-toggle cache keys.
	ToggleKeyPrefix = "toggle:"

	// toggleMemoTTL bounds how long a process serves a toggle without
	// re-reading Redis, so flips propagate within a minute.
	toggleMemoTTL = time.Minute
)

type toggleEntry struct {
	value     bool
	fetchedAt time.Time
}

// Toggles serves boolean feature switches: a short-lived process-local
// memo in front of Redis. A toggle missing everywhere falls back to its
// caller-supplied default, so Redis being down never blocks a job.
type Toggles struct {
	client *redis.Client
	logger *logger.Logger

	mu    sync.RWMutex
	local map[string]toggleEntry
}

// NewToggles creates a feature-toggle cache.
func NewToggles(client *redis.Client, log *logger.Logger) *Toggles {
	return &Toggles{
		client: client,
		logger: log.WithField("component", "toggles"),
		local:  make(map[string]toggleEntry),
	}
}

// Enabled reports whether the named toggle is on, preferring the local
// memo while it is fresh.
func (t *Toggles) Enabled(ctx context.Context, name string, def bool) bool {
	t.mu.RLock()
	entry, ok := t.local[name]
	t.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < toggleMemoTTL {
		return entry.value
	}

	val, err := t.client.Get(ctx, ToggleKeyPrefix+name).Result()
	if err == redis.Nil {
		return def
	}
	if err != nil {
		t.logger.Error("cache error", "operation", "get", "toggle", name, "error", err)
		if ok {
			return entry.value
		}
		return def
	}

	on := val == "1" || val == "true"
	t.mu.Lock()
	t.local[name] = toggleEntry{value: on, fetchedAt: time.Now()}
	t.mu.Unlock()
	return on
}

// Set writes the toggle through to Redis and the local memo. Toggles
// are unexpiring; flipping back is an explicit Set.
func (t *Toggles) Set(ctx context.Context, name string, on bool) error {
	val := "0"
	if on {
		val = "1"
	}
	if err := t.client.Set(ctx, ToggleKeyPrefix+name, val, 0).Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.local[name] = toggleEntry{value: on, fetchedAt: time.Now()}
	t.mu.Unlock()
	return nil
}
