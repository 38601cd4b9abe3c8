package bench_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/go-rtmusic/internal/bench"
	"github.com/example/go-rtmusic/internal/oracle"
	"github.com/example/go-rtmusic/internal/session"
	"github.com/example/go-rtmusic/internal/style"
)

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

func TestStats_MinMaxMean(t *testing.T) {
	durations := []time.Duration{
		300 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
	}
	s := bench.ComputeStats(durations)

	if s.Min != 100*time.Millisecond {
		t.Errorf("want min=100ms, got %v", s.Min)
	}

	if s.Max != 300*time.Millisecond {
		t.Errorf("want max=300ms, got %v", s.Max)
	}

	if s.Mean != 200*time.Millisecond {
		t.Errorf("want mean=200ms, got %v", s.Mean)
	}

	if durations[0] != 300*time.Millisecond {
		t.Error("ComputeStats must not reorder its input")
	}
}

func TestStats_SingleRun(t *testing.T) {
	s := bench.ComputeStats([]time.Duration{150 * time.Millisecond})
	if s.Min != s.Max || s.Min != s.Mean || s.Min != s.P95 {
		t.Errorf("single run: min/max/mean/p95 should all be equal, got %+v", s)
	}
}

func TestStats_P95(t *testing.T) {
	durations := make([]time.Duration, 20)
	for i := range durations {
		durations[i] = time.Duration(i+1) * time.Millisecond
	}
	if got := bench.ComputeStats(durations).P95; got != 19*time.Millisecond {
		t.Errorf("p95 of 1..20ms = %v; want 19ms", got)
	}
}

func TestStats_Empty(t *testing.T) {
	if s := bench.ComputeStats(nil); s != (bench.Stats{}) {
		t.Errorf("empty stats = %+v; want zero", s)
	}
}

func TestSummarize_MeanRTF(t *testing.T) {
	s := bench.Summarize([]bench.RunResult{
		{Duration: time.Second, RTF: 0.25},
		{Duration: time.Second, RTF: 0.75},
	})
	if s.MeanRTF != 0.5 {
		t.Errorf("MeanRTF = %g; want 0.5", s.MeanRTF)
	}
}

// ---------------------------------------------------------------------------
// RTF calculation
// ---------------------------------------------------------------------------

func TestRTF_Calculation(t *testing.T) {
	// 10 seconds of music generated in 5s → RTF = 0.5
	rtf := bench.CalcRTF(5*time.Second, 10*time.Second)
	if rtf < 0.499 || rtf > 0.501 {
		t.Errorf("want RTF≈0.5, got %.4f", rtf)
	}
}

func TestRTF_ZeroAudioDuration(t *testing.T) {
	rtf := bench.CalcRTF(500*time.Millisecond, 0)
	if rtf != 0 {
		t.Errorf("want RTF=0 for zero audio duration, got %.4f", rtf)
	}
}

// ---------------------------------------------------------------------------
// RTF threshold gate
// ---------------------------------------------------------------------------

func TestRTFThreshold(t *testing.T) {
	tests := []struct {
		name      string
		mean      float64
		threshold float64
		wantErr   bool
	}{
		{"exceeds", 1.5, 1.0, true},
		{"below", 0.8, 1.0, false},
		{"exactly at", 1.0, 1.0, false},
		{"disabled", 9999, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := bench.CheckRTFThreshold(tt.mean, tt.threshold)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckRTFThreshold(%g, %g) = %v; wantErr=%v", tt.mean, tt.threshold, err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Driver
// ---------------------------------------------------------------------------

type fakeGen struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	failOn   int32
	delay    time.Duration
}

func (g *fakeGen) Generate(ctx context.Context, _ session.Request) (session.Result, error) {
	n := g.calls.Add(1)
	cur := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if cur <= p || g.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if g.failOn > 0 && n == g.failOn {
		return session.Result{}, oracle.ErrResourceExhausted
	}
	select {
	case <-time.After(g.delay):
	case <-ctx.Done():
		return session.Result{}, ctx.Err()
	}
	return session.Result{Samples: make([]float32, 4000), SampleRate: 1000, Chunks: 2}, nil
}

func benchRequest() session.Request {
	return session.Request{
		Duration: 4 * time.Second,
		Styles:   []style.Weighted{{Input: style.Text("ambient"), Weight: 1}},
	}
}

func TestRun_Sequential(t *testing.T) {
	gen := &fakeGen{delay: time.Millisecond}
	runs, err := bench.Run(context.Background(), gen, benchRequest(), bench.Options{Runs: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(runs) != 3 {
		t.Fatalf("len(runs) = %d; want 3", len(runs))
	}

	for i, r := range runs {
		if r.Index != i || r.Cold != (i == 0) {
			t.Errorf("run %d = %+v", i, r)
		}
		if r.AudioDuration != 4*time.Second || r.Chunks != 2 || r.RTF <= 0 {
			t.Errorf("run %d metadata = %+v", i, r)
		}
	}

	if p := gen.peak.Load(); p != 1 {
		t.Errorf("peak concurrency = %d; want 1", p)
	}
}

func TestRun_Concurrent(t *testing.T) {
	gen := &fakeGen{delay: 20 * time.Millisecond}
	runs, err := bench.Run(context.Background(), gen, benchRequest(), bench.Options{Runs: 6, Concurrency: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(runs) != 6 || gen.calls.Load() != 6 {
		t.Errorf("runs = %d, calls = %d; want 6", len(runs), gen.calls.Load())
	}

	if p := gen.peak.Load(); p < 2 || p > 3 {
		t.Errorf("peak concurrency = %d; want 2..3", p)
	}
}

func TestRun_FailureAborts(t *testing.T) {
	gen := &fakeGen{failOn: 2}
	_, err := bench.Run(context.Background(), gen, benchRequest(), bench.Options{Runs: 5})

	if !errors.Is(err, oracle.ErrResourceExhausted) {
		t.Fatalf("Run error = %v; want ErrResourceExhausted", err)
	}

	if !strings.Contains(err.Error(), "run 2") {
		t.Errorf("error %q should name the failed run", err)
	}
}

func TestRun_RejectsZeroRuns(t *testing.T) {
	if _, err := bench.Run(context.Background(), &fakeGen{}, benchRequest(), bench.Options{}); err == nil {
		t.Error("expected error for zero runs")
	}
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func sampleRuns() ([]bench.RunResult, bench.Stats) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: 800 * time.Millisecond, RTF: 0.1, AudioDuration: 10 * time.Second, Chunks: 5},
		{Index: 1, Cold: false, Duration: 500 * time.Millisecond, RTF: 0.3, AudioDuration: 10 * time.Second, Chunks: 5, Retries: 1},
	}
	return runs, bench.Summarize(runs)
}

func TestFormatTable_ContainsHeaders(t *testing.T) {
	runs, stats := sampleRuns()

	var buf strings.Builder
	bench.FormatTable(runs, stats, &buf)
	out := buf.String()

	for _, want := range []string{"run", "cold", "ms", "chunks", "retries", "rtf", "p95", "mean rtf 0.200"} {
		if !strings.Contains(strings.ToLower(out), want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON_IsValidJSON(t *testing.T) {
	runs, stats := sampleRuns()

	var buf bytes.Buffer
	bench.FormatJSON(runs, stats, &buf)

	var out struct {
		Runs  []map[string]any `json:"runs"`
		Stats map[string]any   `json:"stats"`
	}

	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("FormatJSON produced invalid JSON: %v\n%s", err, buf.String())
	}

	if len(out.Runs) != 2 || out.Runs[1]["retries"] != float64(1) {
		t.Errorf("runs = %v", out.Runs)
	}

	if _, ok := out.Stats["p95_ms"]; !ok {
		t.Errorf("stats missing p95_ms: %v", out.Stats)
	}
}
