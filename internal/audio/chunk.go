package audio

import (
	"math"
	"time"
)

// Chunk is one fixed-duration block of generated mono audio. Samples are
// never modified after the chunk leaves the generator.
type Chunk struct {
	Index   int
	Samples []float32
}

// Len returns the number of samples in the chunk.
func (c Chunk) Len() int { return len(c.Samples) }

// SamplesFor converts a duration into a whole number of samples at rate,
// rounding to the nearest sample.
func SamplesFor(d time.Duration, rate int) int {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * float64(rate)))
}

// DurationOf converts a sample count at rate back into a duration.
func DurationOf(n, rate int) time.Duration {
	if n <= 0 || rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}
