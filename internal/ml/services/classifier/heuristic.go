package classifier

import (
	"strings"

	"github.com/haukened/rr-dnsml/internal/ml/domain"
)

// Heuristic weights. Each matching keyword adds keywordWeight.
const (
	keywordWeight  = 0.25
	deepNameWeight = 0.15
	digitRunWeight = 0.1
	riskyTLDWeight = 0.2
	longNameWeight = 0.1
	deepNameLabels = 4
	longNameRunes  = 40
)

var riskyTLDSuffixes = []string{".xyz", ".click"}

// HeuristicScore rates a canonical name from its raw feature vector
// without a model: 0.25 per keyword hit, 0.15 for four or more labels, 0.1
// for a digit run, 0.2 for a .xyz or .click name and 0.1 for names longer
// than 40 runes. The sum is capped at 1.
func HeuristicScore(name string, v domain.FeatureVector) float64 {
	s := keywordWeight * v[domain.FeatureKeywordHitCount]
	if v[domain.FeatureSubdomainCount] >= deepNameLabels {
		s += deepNameWeight
	}
	if v[domain.FeatureHasLongDigitRun] > 0 {
		s += digitRunWeight
	}
	for _, suf := range riskyTLDSuffixes {
		if strings.HasSuffix(name, suf) {
			s += riskyTLDWeight
			break
		}
	}
	if v[domain.FeatureLength] > longNameRunes {
		s += longNameWeight
	}
	return min(1, s)
}
