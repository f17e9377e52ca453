package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/moolen/sleuth/internal/logging"
)

// CacheConfig configures the query embedding cache.
type CacheConfig struct {
	Size int           // Max entries; 0 disables the cache
	TTL  time.Duration // Entry TTL (default: 10 minutes)
}

// DefaultCacheConfig returns default cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Size: 256,
		TTL:  10 * time.Minute,
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Items   int     `json:"items"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Expired uint64  `json:"expired"`
	HitRate float64 `json:"hit_rate"`
}

type cachedVector struct {
	vector    []float32
	expiresAt time.Time
}

// vectorCache keeps embeddings of recent query texts so repeated analyses
// of the same incident skip the embedding call.
type vectorCache struct {
	lru    *lru.Cache[string, cachedVector]
	ttl    time.Duration
	logger *logging.Logger

	hits    uint64
	misses  uint64
	expired uint64
}

func newVectorCache(cfg CacheConfig, logger *logging.Logger) (*vectorCache, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", cfg.Size)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	c, err := lru.New[string, cachedVector](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	logger.Debug("Query embedding cache initialized: size=%d, TTL=%v", cfg.Size, cfg.TTL)
	return &vectorCache{lru: c, ttl: cfg.TTL, logger: logger}, nil
}

func (c *vectorCache) get(key string) ([]float32, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.lru.Remove(key)
		atomic.AddUint64(&c.expired, 1)
		atomic.AddUint64(&c.misses, 1)
		c.logger.Debug("Query embedding cache GET: key=%s, hit=false (expired)", key[:16])
		return nil, false
	}
	atomic.AddUint64(&c.hits, 1)
	return entry.vector, true
}

func (c *vectorCache) put(key string, vector []float32) {
	c.lru.Add(key, cachedVector{vector: vector, expiresAt: time.Now().Add(c.ttl)})
}

func (c *vectorCache) clear() {
	c.lru.Purge()
}

func (c *vectorCache) stats() CacheStats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		Items:   c.lru.Len(),
		Hits:    hits,
		Misses:  misses,
		Expired: atomic.LoadUint64(&c.expired),
		HitRate: rate,
	}
}

// cacheKey hashes the embedder identity together with the whitespace
// normalised query text.
func cacheKey(embedder, text string) string {
	h := sha256.New()
	h.Write([]byte(embedder))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(strings.Fields(text), " ")))
	return hex.EncodeToString(h.Sum(nil))
}
