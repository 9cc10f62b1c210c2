package domain

import (
	"fmt"
	"strings"
)

// Label is the binary class of a domain.
type Label uint8

const (
	// LabelAllowed marks a benign domain that should resolve.
	LabelAllowed Label = 0
	// LabelBlocked marks an ad/tracker-like domain that should be denied.
	LabelBlocked Label = 1
)

// String returns the CSV representation of the label ("0" or "1").
func (l Label) String() string {
	switch l {
	case LabelAllowed:
		return "0"
	case LabelBlocked:
		return "1"
	default:
		return fmt.Sprintf("Label(%d)", l)
	}
}

// Float returns the label as a training target.
func (l Label) Float() float64 {
	if l == LabelBlocked {
		return 1
	}
	return 0
}

// Valid reports whether l is exactly 0 or 1.
func (l Label) Valid() bool {
	return l == LabelAllowed || l == LabelBlocked
}

// ParseLabel accepts exactly "0" or "1" (surrounding whitespace ignored).
func ParseLabel(s string) (Label, error) {
	switch strings.TrimSpace(s) {
	case "0":
		return LabelAllowed, nil
	case "1":
		return LabelBlocked, nil
	default:
		return 0, fmt.Errorf("unsupported label: %q", s)
	}
}
