package domain

import (
	"fmt"
	"strings"
)

// Record is a single labeled domain.
type Record struct {
	Domain string
	Label  Label
}

// NewRecord trims the domain and validates the record.
func NewRecord(name string, label Label) (Record, error) {
	r := Record{Domain: strings.TrimSpace(name), Label: label}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Validate checks that the domain is non-empty and the label is 0 or 1.
func (r Record) Validate() error {
	if r.Domain == "" {
		return fmt.Errorf("record domain must not be empty")
	}
	if !r.Label.Valid() {
		return fmt.Errorf("unsupported label: %d", r.Label)
	}
	return nil
}

// IsBlocked is a convenience accessor.
func (r Record) IsBlocked() bool { return r.Label == LabelBlocked }
