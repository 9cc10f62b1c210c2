package domain

// EpochMetrics is the training trace for one pass over the data.
// Validation fields are zero when no rows were held out.
type EpochMetrics struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	ValLoss     float64
	ValAccuracy float64
}

// History is the epoch-by-epoch trace returned with a fitted model.
type History []EpochMetrics

// Last returns the final epoch, or false for an empty history.
func (h History) Last() (EpochMetrics, bool) {
	if len(h) == 0 {
		return EpochMetrics{}, false
	}
	return h[len(h)-1], true
}

// Diverging reports whether the final training loss is above the first.
func (h History) Diverging() bool {
	if len(h) < 2 {
		return false
	}
	return h[len(h)-1].Loss > h[0].Loss
}

// Stagnant reports whether training loss moved less than tol over the run.
func (h History) Stagnant(tol float64) bool {
	if len(h) < 2 {
		return false
	}
	d := h[0].Loss - h[len(h)-1].Loss
	if d < 0 {
		d = -d
	}
	return d < tol
}
