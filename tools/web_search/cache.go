package web_search

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/alphy/tools/web_search/models"
)

// CachedSearcher wraps a WebSearcher with a redis result cache. Research
// runs repeat queries across iterations and phases; caching keeps the
// provider bill down and makes reruns fast.
type CachedSearcher struct {
	inner WebSearcher
	rdb   *redis.Client
	ttl   time.Duration
}

func NewCachedSearcher(inner WebSearcher, rdb *redis.Client, ttl time.Duration) *CachedSearcher {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedSearcher{inner: inner, rdb: rdb, ttl: ttl}
}

func (c *CachedSearcher) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error) {
	key := cacheKey(q, k, sites, recency)
	if raw, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var out []models.Result
		if json.Unmarshal([]byte(raw), &out) == nil {
			return out, nil
		}
	}
	out, err := c.inner.Discover(ctx, q, k, sites, recency)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(out); err == nil {
		// cache failures are not search failures
		_ = c.rdb.Set(ctx, key, b, c.ttl).Err()
	}
	return out, nil
}

func cacheKey(q string, k int, sites []string, recency int) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%d|%v|%d", q, k, sites, recency)
	return "alphy:search:" + hex.EncodeToString(h.Sum(nil))
}
