// Package features turns a raw domain string into the fixed-length lexical
// feature vector the classifier consumes.
package features

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/haukened/rr-dnsml/internal/ml/common/utils"
	"github.com/haukened/rr-dnsml/internal/ml/domain"
)

// DefaultKeywords are substrings that commonly appear in ad and tracker hosts.
var DefaultKeywords = []string{
	"ads", "track", "metrics", "click", "banner", "promo", "beacon", "telemetry", "doubleclick",
}

// DefaultSuspiciousTLDs are top-level labels over-represented in blocklists.
var DefaultSuspiciousTLDs = []string{"xyz", "click", "info", "top"}

// Options configures an Extractor. Nil slices select the defaults; an empty
// non-nil slice disables that feature.
type Options struct {
	Keywords       []string
	SuspiciousTLDs []string
}

// Extractor computes domain.FeatureVector values. It is immutable and safe
// for concurrent use.
type Extractor struct {
	keywords []string
	tlds     map[string]struct{}
}

// New constructs an Extractor. Keywords and TLDs are lowercased, trimmed and
// deduplicated in first-seen order; blanks are ignored.
func New(opts Options) *Extractor {
	kw := opts.Keywords
	if kw == nil {
		kw = DefaultKeywords
	}
	tl := opts.SuspiciousTLDs
	if tl == nil {
		tl = DefaultSuspiciousTLDs
	}

	e := &Extractor{
		keywords: normalizeSet(kw),
		tlds:     make(map[string]struct{}, len(tl)),
	}
	for _, t := range normalizeSet(tl) {
		e.tlds[strings.TrimPrefix(t, ".")] = struct{}{}
	}
	return e
}

// Default returns an Extractor using DefaultKeywords and DefaultSuspiciousTLDs.
func Default() *Extractor {
	return New(Options{})
}

// Keywords returns a copy of the keyword set in order.
func (e *Extractor) Keywords() []string {
	out := make([]string, len(e.keywords))
	copy(out, e.keywords)
	return out
}

// SuspiciousTLDs returns the TLD set in sorted order.
func (e *Extractor) SuspiciousTLDs() []string {
	out := make([]string, 0, len(e.tlds))
	for t := range e.tlds {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Extract returns the feature vector for name. It never fails: any string,
// including "" and invalid UTF-8, yields a valid vector.
func (e *Extractor) Extract(name string) domain.FeatureVector {
	d := strings.ToLower(name)

	var v domain.FeatureVector
	v[domain.FeatureLength] = float64(utf8.RuneCountInString(d))
	v[domain.FeatureSubdomainCount] = float64(strings.Count(d, ".") + 1)
	if hasDigitRun(d, 2) {
		v[domain.FeatureHasLongDigitRun] = 1
	}
	v[domain.FeatureKeywordHitCount] = float64(e.keywordHits(d))
	if e.suspiciousTLD(d) {
		v[domain.FeatureSuspiciousTLD] = 1
	}
	return v
}

// ExtractBatch maps Extract over names, preserving order.
func (e *Extractor) ExtractBatch(names []string) []domain.FeatureVector {
	out := make([]domain.FeatureVector, len(names))
	for i, n := range names {
		out[i] = e.Extract(n)
	}
	return out
}

// ExtractDomain canonicalizes name (trimmed, lowercased, no trailing dot)
// and extracts it. Training and inference both go through here so a name
// yields the same vector on either side.
func (e *Extractor) ExtractDomain(name string) domain.FeatureVector {
	return e.Extract(utils.CanonicalDNSName(name))
}

// ExtractDomains maps ExtractDomain over names, preserving order.
func (e *Extractor) ExtractDomains(names []string) []domain.FeatureVector {
	out := make([]domain.FeatureVector, len(names))
	for i, n := range names {
		out[i] = e.ExtractDomain(n)
	}
	return out
}

// keywordHits counts the keywords that occur in d. Each keyword counts once;
// keywords that overlap each other ("click", "doubleclick") both count.
func (e *Extractor) keywordHits(d string) int {
	n := 0
	for _, k := range e.keywords {
		if strings.Contains(d, k) {
			n++
		}
	}
	return n
}

// suspiciousTLD checks the label after the last dot. Names without a dot
// have no TLD.
func (e *Extractor) suspiciousTLD(d string) bool {
	i := strings.LastIndexByte(d, '.')
	if i < 0 {
		return false
	}
	_, ok := e.tlds[d[i+1:]]
	return ok
}

// hasDigitRun reports whether s contains at least min consecutive ASCII digits.
func hasDigitRun(s string, min int) bool {
	run := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			run++
			if run >= min {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

func normalizeSet(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
