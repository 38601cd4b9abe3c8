package engine_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/example/go-rtmusic/internal/engine"
	"github.com/example/go-rtmusic/internal/session"
)

func TestSeconds(t *testing.T) {
	tests := []struct {
		name    string
		in      float64
		want    time.Duration
		wantErr bool
	}{
		{"zero", 0, 0, false},
		{"whole", 30, 30 * time.Second, false},
		{"fraction", 2.5, 2500 * time.Millisecond, false},
		{"negative", -1, 0, true},
		{"NaN", math.NaN(), 0, true},
		{"infinite", math.Inf(1), 0, true},
		{"overflows duration", 1e12, 0, true},
		{"max float", math.MaxFloat64, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Seconds(tt.in)
			if tt.wantErr {
				if !errors.Is(err, session.ErrInvalidRequest) {
					t.Errorf("Seconds(%g) error = %v; want ErrInvalidRequest", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Seconds(%g): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Seconds(%g) = %v; want %v", tt.in, got, tt.want)
			}
		})
	}
}
