package domain

import (
	"fmt"
	"math"
)

// NormParams holds one scale per feature index. They are computed once from
// a training batch and reused verbatim for every later batch, including
// inference. Train and inference must share the same values.
type NormParams struct {
	Scales [FeatureCount]float64
}

// IdentityNormParams returns parameters that leave values unchanged.
func IdentityNormParams() NormParams {
	var p NormParams
	for i := range p.Scales {
		p.Scales[i] = 1
	}
	return p
}

// Validate rejects non-finite or non-positive scales.
func (p NormParams) Validate() error {
	for i, s := range p.Scales {
		if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
			return fmt.Errorf("invalid scale for %s: %v", FeatureNames[i], s)
		}
	}
	return nil
}
