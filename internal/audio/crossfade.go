package audio

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Curve selects the gain law used to blend two chunks across an overlap.
type Curve int

const (
	// CurveEqualPower keeps perceived loudness constant across the blend
	// for uncorrelated material (sin/cos gains).
	CurveEqualPower Curve = iota
	// CurveLinear ramps gains linearly; the gains always sum to one.
	CurveLinear
)

// ParseCurve converts a configuration string into a Curve.
func ParseCurve(s string) (Curve, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "equal-power", "equal_power", "equalpower":
		return CurveEqualPower, nil
	case "linear":
		return CurveLinear, nil
	default:
		return CurveEqualPower, fmt.Errorf("unknown crossfade curve %q (want linear|equal-power)", s)
	}
}

func (c Curve) String() string {
	if c == CurveLinear {
		return "linear"
	}
	return "equal-power"
}

// Gains returns the fade-out gain for the outgoing chunk and the fade-in gain
// for the incoming chunk at position t in [0, 1].
func (c Curve) Gains(t float64) (out, in float64) {
	if c == CurveLinear {
		return 1 - t, t
	}
	return math.Cos(t * math.Pi / 2), math.Sin(t * math.Pi / 2)
}

// ErrChunkTooShort is returned when a chunk cannot hold the configured overlap.
var ErrChunkTooShort = errors.New("chunk shorter than crossfade overlap")

// Stitcher joins successive chunks into one continuous stream. The overlap
// tail of the most recent chunk stays pending until the next chunk arrives
// or Finish is called; everything before it is final.
type Stitcher struct {
	overlap int
	curve   Curve

	out     []float32
	tail    []float32
	chunks  int
	blended int
}

// NewStitcher returns a Stitcher blending overlap samples with curve.
func NewStitcher(overlap int, curve Curve) *Stitcher {
	if overlap < 0 {
		overlap = 0
	}
	return &Stitcher{overlap: overlap, curve: curve}
}

// Append blends c onto the pending tail and extends the output stream.
func (s *Stitcher) Append(c Chunk) error {
	n := len(c.Samples)
	if n == 0 {
		return fmt.Errorf("chunk %d: empty", c.Index)
	}
	ov := s.overlap
	if n < 2*ov && !(s.chunks == 0 && n >= ov) {
		return fmt.Errorf("chunk %d (%d samples, overlap %d): %w", c.Index, n, ov, ErrChunkTooShort)
	}

	body := c.Samples
	if s.chunks > 0 && ov > 0 {
		s.out = append(s.out, s.blend(s.tail, body[:ov])...)
		body = body[ov:]
		s.blended++
	}

	keep := len(body) - ov
	if keep < 0 {
		keep = 0
	}
	s.out = append(s.out, body[:keep]...)
	s.tail = append(s.tail[:0], body[keep:]...)
	s.chunks++

	return nil
}

func (s *Stitcher) blend(prev, next []float32) []float32 {
	out := make([]float32, len(prev))
	steps := float64(len(prev) + 1)
	for i := range prev {
		g0, g1 := s.curve.Gains(float64(i+1) / steps)
		out[i] = float32(float64(prev[i])*g0 + float64(next[i])*g1)
	}
	return out
}

// Finalized returns the number of samples that can no longer change.
func (s *Stitcher) Finalized() int { return len(s.out) }

// Len returns the full stream length including the pending tail.
func (s *Stitcher) Len() int { return len(s.out) + len(s.tail) }

// Chunks returns how many chunks have been appended.
func (s *Stitcher) Chunks() int { return s.chunks }

// Blends returns how many chunk boundaries have been crossfaded.
func (s *Stitcher) Blends() int { return s.blended }

// Finish flushes the pending tail and truncates the stream to limit samples.
// A non-positive limit keeps everything. The stitcher must not be reused.
func (s *Stitcher) Finish(limit int) []float32 {
	out := append(s.out, s.tail...)
	s.out, s.tail = nil, nil
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
