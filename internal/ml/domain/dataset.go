package domain

// Dataset is an ordered sequence of labeled records. After balancing it holds
// equal blocked and allowed counts in shuffled order.
type Dataset struct {
	Records []Record
}

// Len returns the number of records.
func (d Dataset) Len() int { return len(d.Records) }

// IsEmpty reports whether the dataset holds no records. Callers must check
// this before training.
func (d Dataset) IsEmpty() bool { return len(d.Records) == 0 }

// Counts returns the number of blocked and allowed records.
func (d Dataset) Counts() (blocked, allowed int) {
	for _, r := range d.Records {
		if r.IsBlocked() {
			blocked++
		} else {
			allowed++
		}
	}
	return blocked, allowed
}

// Balanced reports whether both classes have the same count.
func (d Dataset) Balanced() bool {
	b, a := d.Counts()
	return b == a
}

// Domains returns the domain column in order.
func (d Dataset) Domains() []string {
	out := make([]string, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Domain
	}
	return out
}

// Labels returns the label column in order.
func (d Dataset) Labels() []Label {
	out := make([]Label, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Label
	}
	return out
}

// Head returns at most n leading records.
func (d Dataset) Head(n int) []Record {
	if n > len(d.Records) {
		n = len(d.Records)
	}
	if n < 0 {
		n = 0
	}
	return d.Records[:n]
}

// SplitIndex returns the positional boundary between the training and the
// held-out rows for a validation fraction in [0, 1). Rows [0, idx) train and
// rows [idx, n) validate.
func SplitIndex(n int, fraction float64) int {
	if fraction <= 0 || n == 0 {
		return n
	}
	if fraction >= 1 {
		return 0
	}
	return int(float64(n) * (1 - fraction))
}
