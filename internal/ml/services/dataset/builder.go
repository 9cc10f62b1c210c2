// Package dataset balances a blocked and an allowed domain pool into a
// shuffled, labeled dataset.
package dataset

import (
	"math/rand/v2"

	"github.com/haukened/rr-dnsml/internal/ml/domain"
)

// NewRand returns the seeded source used by the builder and the trainer.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// Build draws N = min(len(blocked), len(allowed)) domains without
// replacement from each pool, labels them 1 and 0, and shuffles the 2N
// records. The pools are not mutated. An empty pool yields an empty dataset.
func Build(blocked, allowed []string, rng *rand.Rand) domain.Dataset {
	n := min(len(blocked), len(allowed))
	if n == 0 {
		return domain.Dataset{}
	}

	records := make([]domain.Record, 0, 2*n)
	for _, d := range sample(blocked, n, rng) {
		records = append(records, domain.Record{Domain: d, Label: domain.LabelBlocked})
	}
	for _, d := range sample(allowed, n, rng) {
		records = append(records, domain.Record{Domain: d, Label: domain.LabelAllowed})
	}

	rng.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
	return domain.Dataset{Records: records}
}

// BuildSeeded is Build with a fresh source seeded from seed.
func BuildSeeded(blocked, allowed []string, seed uint64) domain.Dataset {
	return Build(blocked, allowed, NewRand(seed))
}

// FromRecords rebalances an already labeled table: records are split into
// pools by label, then passed through Build. Invalid records are skipped.
func FromRecords(records []domain.Record, rng *rand.Rand) domain.Dataset {
	blocked, allowed := Pools(records)
	return Build(blocked, allowed, rng)
}

// Pools splits records into blocked and allowed domain lists, preserving order.
func Pools(records []domain.Record) (blocked, allowed []string) {
	for _, r := range records {
		if r.Validate() != nil {
			continue
		}
		if r.IsBlocked() {
			blocked = append(blocked, r.Domain)
		} else {
			allowed = append(allowed, r.Domain)
		}
	}
	return blocked, allowed
}

// sample returns k items drawn uniformly without replacement from pool,
// using a partial Fisher-Yates shuffle on a copy.
func sample(pool []string, k int, rng *rand.Rand) []string {
	cp := make([]string, len(pool))
	copy(cp, pool)
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(cp)-i)
		cp[i], cp[j] = cp[j], cp[i]
	}
	return cp[:k]
}
