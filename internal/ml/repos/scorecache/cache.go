// Package scorecache memoizes classifier predictions by canonical domain.
package scorecache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-dnsml/internal/ml/domain"
)

// Stats reports cache metrics. Fields are best-effort snapshots.
type Stats struct {
	Capacity  int
	Size      int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache caches predictions by canonical name.
type Cache interface {
	Get(name string) (domain.Prediction, bool)
	Put(name string, p domain.Prediction)
	Len() int
	Purge()
	Stats() Stats
}

// predictionCache is an LRU-backed Cache that counts hits, misses and evictions.
type predictionCache struct {
	lru       *lru.Cache[string, domain.Prediction]
	capacity  int
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// disabledCache always misses. It is used when size <= 0.
type disabledCache struct {
	misses atomic.Uint64
}

// New creates a Cache with the given capacity, or a disabled cache when
// size <= 0.
func New(size int) (Cache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}

	c := &predictionCache{capacity: size}
	// NewWithEvict observes evictions, including Purge-induced ones.
	cache, err := lru.NewWithEvict(size, func(string, domain.Prediction) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	c.lru = cache
	return c, nil
}

func (c *predictionCache) Get(name string) (domain.Prediction, bool) {
	if val, ok := c.lru.Get(name); ok {
		c.hits.Add(1)
		return val, true
	}
	c.misses.Add(1)
	return domain.Prediction{}, false
}

func (c *predictionCache) Put(name string, p domain.Prediction) { c.lru.Add(name, p) }

func (c *predictionCache) Len() int { return c.lru.Len() }

// Purge clears all entries. Evictions are counted via the eviction callback.
func (c *predictionCache) Purge() { c.lru.Purge() }

func (c *predictionCache) Stats() Stats {
	return Stats{
		Capacity:  c.capacity,
		Size:      c.lru.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

func (d *disabledCache) Get(string) (domain.Prediction, bool) {
	d.misses.Add(1)
	return domain.Prediction{}, false
}

func (d *disabledCache) Put(string, domain.Prediction) {}

func (d *disabledCache) Len() int { return 0 }

func (d *disabledCache) Purge() {}

func (d *disabledCache) Stats() Stats { return Stats{Misses: d.misses.Load()} }

var _ Cache = (*predictionCache)(nil)
var _ Cache = (*disabledCache)(nil)
