package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-dnsml/internal/ml/repos/corpus"
)

type factory struct{}

// NewFactory returns a BloomFactory that sizes filters from capacity and FP rate.
func NewFactory() corpus.BloomFactory { return factory{} }

func (factory) New(capacity uint64, fpRate float64) corpus.BloomFilter {
	m, k := size(capacity, fpRate)
	return &filter{bf: bitsbloom.New(uint(m), uint(k))}
}

var (
	_ corpus.BloomFactory = factory{}
	_ corpus.BloomSizer   = sizer{}
	_ corpus.BloomFilter  = (*filter)(nil)
)
