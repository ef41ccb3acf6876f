package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/providers"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/observability"
)

// DefaultEligibilityTTL is how long an insurer answer stays reusable
const DefaultEligibilityTTL = 24 * time.Hour

// EligibilityCache is a best-effort cache-aside store of raw insurer
// responses keyed by search value. It never holds audit records.
type EligibilityCache struct {
	store   providers.CacheProvider
	ttl     time.Duration
	metrics *observability.Metrics
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// NewEligibilityCache creates a cache with a fixed TTL
func NewEligibilityCache(store providers.CacheProvider, ttl time.Duration, metrics *observability.Metrics) *EligibilityCache {
	if ttl <= 0 {
		ttl = DefaultEligibilityTTL
	}
	return &EligibilityCache{
		store:   store,
		ttl:     ttl,
		metrics: metrics,
		now:     time.Now,
	}
}

// Get returns the cached response, or false when absent, expired or unreadable.
// Store failures count as misses.
func (c *EligibilityCache) Get(ctx context.Context, key string) (*entities.CachedEligibility, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, providers.ErrCacheMiss) {
			observability.LoggerFromContext(ctx).Warn().
				Err(err).
				Str("search_value", observability.MaskIdentifier(key)).
				Msg("eligibility cache unavailable, treating as miss")
		}
		c.recordMiss(ctx)
		return nil, false
	}

	var entry entities.CachedEligibility
	if err := json.Unmarshal(data, &entry); err != nil || len(entry.Body) == 0 {
		observability.LoggerFromContext(ctx).Warn().
			Str("search_value", observability.MaskIdentifier(key)).
			Msg("discarding unreadable eligibility cache entry")
		c.recordMiss(ctx)
		return nil, false
	}

	c.hits.Add(1)
	observability.RecordCacheHit(ctx, c.metrics)
	return &entry, true
}

// Set stores body under key for the configured TTL, replacing any prior entry
func (c *EligibilityCache) Set(ctx context.Context, key string, body json.RawMessage) error {
	data, err := json.Marshal(entities.CachedEligibility{
		Body:     body,
		CachedAt: c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode eligibility cache entry: %w", err)
	}
	return c.store.Set(ctx, key, data, c.ttl)
}

// Invalidate removes the entry for key. Removing a missing key is a no-op.
func (c *EligibilityCache) Invalidate(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to invalidate eligibility cache: %w", err)
	}
	return nil
}

// Stats reports hit and miss counts for this process
func (c *EligibilityCache) Stats() entities.CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := entities.CacheStats{HitCount: hits, MissCount: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

func (c *EligibilityCache) recordMiss(ctx context.Context) {
	c.misses.Add(1)
	observability.RecordCacheMiss(ctx, c.metrics)
}
