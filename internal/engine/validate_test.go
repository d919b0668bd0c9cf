package engine

import (
	"errors"
	"testing"
	"time"
)

func TestValidateHistory(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		events  []time.Time
		wantErr bool
	}{
		{"empty", nil, false},
		{"single", []time.Time{base}, false},
		{"ascending", []time.Time{base, base.Add(time.Hour), base.Add(48 * time.Hour)}, false},
		{"equal timestamps", []time.Time{base, base}, false},
		{"descending", []time.Time{base.Add(time.Hour), base}, true},
		{"late regression", []time.Time{base, base.Add(72 * time.Hour), base.Add(24 * time.Hour)}, true},
		{"zero timestamp", []time.Time{base, {}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateHistory(tt.events)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedHistory) {
					t.Errorf("err = %v, want ErrMalformedHistory", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
