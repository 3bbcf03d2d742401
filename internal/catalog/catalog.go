// Package catalog caches per-provider model listings so repeated lookups in
// one process don't refetch, while a provider outage degrades to the last
// known listing instead of an empty one.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sievelabs/sift/internal/llm"
	"go.uber.org/zap"
)

const defaultTTL = 10 * time.Minute

type entry struct {
	models    []llm.Model
	fetchedAt time.Time
}

// Cache holds model listings keyed by provider kind.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[llm.Kind]entry
	logger  *zap.Logger

	now func() time.Time
}

func New(ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[llm.Kind]entry),
		logger:  logger,
		now:     time.Now,
	}
}

// Models returns the provider's model listing, served from cache while fresh.
// When a refresh fails but a stale listing exists, the stale listing is
// returned with a warning; the error surfaces only with nothing to fall back
// on.
func (c *Cache) Models(ctx context.Context, kind llm.Kind, caller llm.Caller) ([]llm.Model, error) {
	c.mu.RLock()
	cached, ok := c.entries[kind]
	c.mu.RUnlock()

	if ok && c.now().Sub(cached.fetchedAt) < c.ttl {
		return cached.models, nil
	}

	models, err := caller.Models(ctx)
	if err != nil {
		if ok {
			c.logger.Warn("model listing refresh failed, serving stale entry",
				zap.String("llm_provider", string(kind)),
				zap.Time("fetched_at", cached.fetchedAt),
				zap.Error(err),
			)
			return cached.models, nil
		}
		return nil, fmt.Errorf("listing %s models: %w", kind, err)
	}

	c.mu.Lock()
	c.entries[kind] = entry{models: models, fetchedAt: c.now()}
	c.mu.Unlock()

	return models, nil
}

// Invalidate drops a provider's cached listing.
func (c *Cache) Invalidate(kind llm.Kind) {
	c.mu.Lock()
	delete(c.entries, kind)
	c.mu.Unlock()
}
