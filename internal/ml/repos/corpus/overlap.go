package corpus

import (
	"slices"
	"strings"

	"github.com/haukened/rr-dnsml/internal/ml/common/log"
	"github.com/haukened/rr-dnsml/internal/ml/common/utils"
)

// OverlapFilter removes allowed domains that the blocked pool also covers,
// either exactly or through a blocked parent domain. A Bloom filter over
// the blocked pool screens candidates; positives are confirmed by binary
// search over a sorted copy of the pool.
type OverlapFilter struct {
	factory BloomFactory
	fpRate  float64
	logger  log.Logger
}

// NewOverlapFilter returns a filter whose Bloom prefilter targets fpRate.
func NewOverlapFilter(factory BloomFactory, fpRate float64, logger log.Logger) *OverlapFilter {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &OverlapFilter{factory: factory, fpRate: fpRate, logger: logger}
}

// Filter returns allowed without the covered domains, in input order, and
// the number removed. Neither input slice is modified.
func (f *OverlapFilter) Filter(blocked, allowed []string) ([]string, int) {
	if len(blocked) == 0 || len(allowed) == 0 {
		return slices.Clone(allowed), 0
	}

	bf := f.factory.New(uint64(len(blocked)), f.fpRate)
	for _, d := range blocked {
		bf.Add([]byte(d))
	}
	sorted := slices.Clone(blocked)
	slices.Sort(sorted)

	kept := make([]string, 0, len(allowed))
	var dropped, falsePositives int
	for _, d := range allowed {
		covered, fp := covers(d, bf, sorted)
		falsePositives += fp
		if covered {
			dropped++
			f.logger.Debug(map[string]any{"domain": d}, "overlap_drop")
			continue
		}
		kept = append(kept, d)
	}

	f.logger.Info(map[string]any{
		"allowed":         len(allowed),
		"dropped":         dropped,
		"bloom_false_pos": falsePositives,
	}, "overlap_filter_done")
	return kept, dropped
}

// covers walks name and its parents down to the registrable domain
// (eTLD+1) and reports whether any is in the blocked pool, plus how many
// Bloom positives failed to confirm. A blocked public suffix such as
// "co.uk" never covers the domains registered under it.
func covers(name string, bf BloomFilter, sorted []string) (bool, int) {
	apex := utils.GetApexDomain(name)
	fp := 0
	for a := name; ; {
		if bf.MightContain([]byte(a)) {
			if _, found := slices.BinarySearch(sorted, a); found {
				return true, fp
			}
			fp++
		}
		i := strings.IndexByte(a, '.')
		if a == apex || i < 0 {
			return false, fp
		}
		a = a[i+1:]
	}
}
