package domain

// Confidence buckets a score for display.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Lower bounds (inclusive) of the medium and high confidence bands.
const (
	MediumConfidenceScore = 0.6
	HighConfidenceScore   = 0.85
)

// ConfidenceFor maps a score to its band: high from 0.85, medium from 0.6,
// low below that.
func ConfidenceFor(score float64) Confidence {
	switch {
	case score >= HighConfidenceScore:
		return ConfidenceHigh
	case score >= MediumConfidenceScore:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Prediction is the classifier's verdict for one domain.
type Prediction struct {
	Domain   string
	Features FeatureVector
	// Score is the blocked probability in [0, 1].
	Score      float64
	Confidence Confidence
	Blocked    bool
}
