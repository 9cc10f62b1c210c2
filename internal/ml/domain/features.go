package domain

import "math"

// FeatureCount is the fixed width of a FeatureVector.
const FeatureCount = 5

// Feature indexes. Order is part of the model contract and must match
// between training and inference.
const (
	FeatureLength = iota
	FeatureSubdomainCount
	FeatureHasLongDigitRun
	FeatureKeywordHitCount
	FeatureSuspiciousTLD
)

// FeatureNames lists feature names in vector order.
var FeatureNames = [FeatureCount]string{
	"length",
	"subdomain_count",
	"has_long_digit_run",
	"keyword_hit_count",
	"suspicious_tld",
}

// FeatureVector is the lexical summary of a domain.
type FeatureVector [FeatureCount]float64

// Valid reports whether every entry is finite and non-negative.
func (v FeatureVector) Valid() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
			return false
		}
	}
	return true
}

// Map returns the vector keyed by feature name, for logging.
func (v FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, FeatureCount)
	for i, name := range FeatureNames {
		out[name] = v[i]
	}
	return out
}
