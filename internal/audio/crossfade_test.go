package audio

import (
	"errors"
	"math"
	"testing"
)

func constChunk(idx, n int, v float32) Chunk {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return Chunk{Index: idx, Samples: s}
}

func TestParseCurve(t *testing.T) {
	tests := []struct {
		in      string
		want    Curve
		wantErr bool
	}{
		{"", CurveEqualPower, false},
		{"equal-power", CurveEqualPower, false},
		{"Equal_Power", CurveEqualPower, false},
		{"linear", CurveLinear, false},
		{" LINEAR ", CurveLinear, false},
		{"cubic", CurveEqualPower, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCurve(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCurve(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCurve(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCurveGains(t *testing.T) {
	for _, c := range []Curve{CurveLinear, CurveEqualPower} {
		t.Run(c.String(), func(t *testing.T) {
			out0, in0 := c.Gains(0)
			if math.Abs(out0-1) > 1e-12 || math.Abs(in0) > 1e-12 {
				t.Errorf("Gains(0) = (%f, %f), want (1, 0)", out0, in0)
			}
			out1, in1 := c.Gains(1)
			if math.Abs(out1) > 1e-12 || math.Abs(in1-1) > 1e-12 {
				t.Errorf("Gains(1) = (%f, %f), want (0, 1)", out1, in1)
			}
		})
	}

	t.Run("linear gains sum to one", func(t *testing.T) {
		for _, x := range []float64{0.1, 0.37, 0.5, 0.9} {
			a, b := CurveLinear.Gains(x)
			if math.Abs(a+b-1) > 1e-12 {
				t.Errorf("t=%f: gains sum %f, want 1", x, a+b)
			}
		}
	})

	t.Run("equal-power gains keep unit power", func(t *testing.T) {
		for _, x := range []float64{0.1, 0.37, 0.5, 0.9} {
			a, b := CurveEqualPower.Gains(x)
			if math.Abs(a*a+b*b-1) > 1e-12 {
				t.Errorf("t=%f: power %f, want 1", x, a*a+b*b)
			}
		}
	})
}

func TestStitcher_LengthLaw(t *testing.T) {
	const chunk, overlap = 100, 15

	for n := 1; n <= 7; n++ {
		s := NewStitcher(overlap, CurveEqualPower)
		for i := range n {
			if err := s.Append(constChunk(i, chunk, 0.5)); err != nil {
				t.Fatalf("Append(%d): %v", i, err)
			}
		}
		want := n*chunk - (n-1)*overlap
		if s.Len() != want {
			t.Errorf("n=%d: Len() = %d, want %d", n, s.Len(), want)
		}
		if s.Finalized() != want-overlap {
			t.Errorf("n=%d: Finalized() = %d, want %d", n, s.Finalized(), want-overlap)
		}
		if s.Blends() != n-1 {
			t.Errorf("n=%d: Blends() = %d, want %d", n, s.Blends(), n-1)
		}
		if got := len(s.Finish(0)); got != want {
			t.Errorf("n=%d: Finish(0) len = %d, want %d", n, got, want)
		}
	}
}

func TestStitcher_FinishTruncatesToTarget(t *testing.T) {
	// 2s chunks, 0.3s overlap, 5s target at 1 kHz: three chunks, two blends.
	s := NewStitcher(300, CurveLinear)
	for i := range 3 {
		if err := s.Append(constChunk(i, 2000, 0.25)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	if s.Blends() != 2 {
		t.Errorf("Blends() = %d, want 2", s.Blends())
	}
	if s.Len() != 5400 {
		t.Errorf("Len() = %d, want 5400", s.Len())
	}
	out := s.Finish(5000)
	if len(out) != 5000 {
		t.Errorf("Finish(5000) len = %d, want 5000", len(out))
	}
}

func TestStitcher_SingleShortTarget(t *testing.T) {
	s := NewStitcher(30, CurveEqualPower)
	if err := s.Append(constChunk(0, 200, 1)); err != nil {
		t.Fatal(err)
	}
	out := s.Finish(120)
	if len(out) != 120 {
		t.Fatalf("len = %d, want 120", len(out))
	}
	for i, v := range out {
		if v != 1 {
			t.Fatalf("sample %d = %f; a lone chunk must pass through untouched", i, v)
		}
	}
}

func TestStitcher_LinearBlendOfEqualSignalsIsFlat(t *testing.T) {
	s := NewStitcher(10, CurveLinear)
	_ = s.Append(constChunk(0, 40, 0.5))
	_ = s.Append(constChunk(1, 40, 0.5))
	for i, v := range s.Finish(0) {
		if math.Abs(float64(v)-0.5) > 1e-6 {
			t.Fatalf("sample %d = %f, want 0.5", i, v)
		}
	}
}

func TestStitcher_BlendMovesFromPreviousToNext(t *testing.T) {
	s := NewStitcher(8, CurveEqualPower)
	_ = s.Append(constChunk(0, 20, 1))
	_ = s.Append(constChunk(1, 20, -1))
	out := s.Finish(0)

	// Overlap region starts after the 12 unblended samples of chunk 0.
	region := out[12:20]
	if region[0] <= 0 {
		t.Errorf("blend start = %f, want dominated by previous chunk", region[0])
	}
	if region[len(region)-1] >= 0 {
		t.Errorf("blend end = %f, want dominated by next chunk", region[len(region)-1])
	}
	for i := 1; i < len(region); i++ {
		if region[i] > region[i-1] {
			t.Fatalf("blend not monotonic at %d: %f > %f", i, region[i], region[i-1])
		}
	}
}

func TestStitcher_DoesNotMutateInput(t *testing.T) {
	s := NewStitcher(4, CurveEqualPower)
	a := constChunk(0, 10, 1)
	b := constChunk(1, 10, -1)
	_ = s.Append(a)
	_ = s.Append(b)
	_ = s.Finish(0)
	for i := range a.Samples {
		if a.Samples[i] != 1 || b.Samples[i] != -1 {
			t.Fatalf("input chunk modified at %d", i)
		}
	}
}

func TestStitcher_ZeroOverlapConcatenates(t *testing.T) {
	s := NewStitcher(0, CurveLinear)
	_ = s.Append(constChunk(0, 5, 1))
	_ = s.Append(constChunk(1, 5, 2))
	out := s.Finish(0)
	if len(out) != 10 || out[4] != 1 || out[5] != 2 {
		t.Errorf("unexpected concatenation: %v", out)
	}
	if s.Blends() != 0 {
		t.Errorf("Blends() = %d, want 0", s.Blends())
	}
}

func TestStitcher_RejectsShortChunks(t *testing.T) {
	s := NewStitcher(10, CurveLinear)
	if err := s.Append(Chunk{Index: 0}); err == nil {
		t.Error("expected error for empty chunk")
	}
	_ = s.Append(constChunk(0, 30, 0))
	err := s.Append(constChunk(1, 15, 0))
	if !errors.Is(err, ErrChunkTooShort) {
		t.Errorf("err = %v, want ErrChunkTooShort", err)
	}
}

func TestSamplesForAndDurationOf(t *testing.T) {
	if got := SamplesFor(2_000_000_000, 48000); got != 96000 {
		t.Errorf("SamplesFor(2s) = %d, want 96000", got)
	}
	if got := SamplesFor(-1, 48000); got != 0 {
		t.Errorf("SamplesFor(negative) = %d, want 0", got)
	}
	if got := DurationOf(24000, 48000); got.Milliseconds() != 500 {
		t.Errorf("DurationOf = %v, want 500ms", got)
	}
}
