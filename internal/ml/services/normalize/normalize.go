// Package normalize scales feature columns by their training-batch maximum.
package normalize

import (
	"github.com/haukened/rr-dnsml/internal/ml/domain"
)

// Fit computes one scale per feature column: the maximum value observed in
// batch. Columns whose maximum is zero (and every column of an empty batch)
// get scale 1 so Apply never divides by zero.
func Fit(batch []domain.FeatureVector) domain.NormParams {
	var max [domain.FeatureCount]float64
	for _, v := range batch {
		for i, x := range v {
			if x > max[i] {
				max[i] = x
			}
		}
	}

	params := domain.IdentityNormParams()
	for i, m := range max {
		if m > 0 {
			params.Scales[i] = m
		}
	}
	return params
}

// Apply divides each entry of v by the matching scale. Values may exceed 1
// when v lies outside the range seen by Fit.
func Apply(v domain.FeatureVector, params domain.NormParams) domain.FeatureVector {
	var out domain.FeatureVector
	for i, x := range v {
		out[i] = x / params.Scales[i]
	}
	return out
}

// ApplyBatch normalizes every vector in batch into a new slice.
func ApplyBatch(batch []domain.FeatureVector, params domain.NormParams) []domain.FeatureVector {
	out := make([]domain.FeatureVector, len(batch))
	for i, v := range batch {
		out[i] = Apply(v, params)
	}
	return out
}
