package clock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}

	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Clock time %v outside [%v, %v]", now, before, after)
	}
	if now.Location() != time.UTC {
		t.Errorf("expected UTC, got %v", now.Location())
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &MockClock{CurrentTime: start}

	testCases := []struct {
		name     string
		duration time.Duration
		expected time.Time
	}{
		{"zero", 0, start},
		{"one day", 24 * time.Hour, start.Add(24 * time.Hour)},
		{"backwards", -1 * time.Hour, start.Add(23 * time.Hour)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clock.Advance(tc.duration)
			if now := clock.Now(); !now.Equal(tc.expected) {
				t.Errorf("Expected %v, got %v", tc.expected, now)
			}
		})
	}
}

func TestClock_Interface_Compliance(t *testing.T) {
	var _ Clock = RealClock{}
	var _ Clock = &MockClock{}
}
