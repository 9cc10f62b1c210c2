// Package corpus loads the two domain pools the dataset is sampled from:
// blocked (ad/tracker) domains and allowed (popular) domains.
package corpus

import (
	"context"
	"io"
	"time"
)

// Pool names one of the two domain pools.
type Pool string

const (
	PoolBlocked Pool = "blocked"
	PoolAllowed Pool = "allowed"
)

// PoolInfo describes a stored pool snapshot.
type PoolInfo struct {
	Pool      Pool
	Source    string
	Count     int
	FetchedAt time.Time
}

// Fresh reports whether the snapshot is younger than maxAge at now.
// A zero maxAge never counts as fresh.
func (i PoolInfo) Fresh(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 || i.FetchedAt.IsZero() || i.Count == 0 {
		return false
	}
	return now.Sub(i.FetchedAt) < maxAge
}

// Store persists pool snapshots between runs.
// - PutPool replaces a pool atomically, preserving domain order
// - Domains returns the stored domains in insertion order
// - Info returns snapshot metadata; ok is false when the pool was never stored
type Store interface {
	PutPool(info PoolInfo, domains []string) error
	Domains(pool Pool) ([]string, error)
	Info(pool Pool) (info PoolInfo, ok bool, err error)
	Purge() error
	Close() error
}

// Fetcher opens a remote corpus source. The caller closes the reader.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// BloomSizer computes Bloom filter parameters from capacity (n) and target FP rate (p).
// It returns m (number of bits) and k (number of hash functions).
type BloomSizer interface {
	Size(n uint64, p float64) (m uint64, k uint8)
}

// BloomFilter is the minimal interface the overlap filter needs.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
	Clear()
}

// BloomFactory builds filters sized for a capacity and false-positive rate.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}
