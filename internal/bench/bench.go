// Package bench provides benchmarking primitives for the rtmusic bench command.
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-rtmusic/internal/audio"
	"github.com/example/go-rtmusic/internal/session"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and audio metadata for a single generation session.
type RunResult struct {
	Index         int
	Cold          bool // true for the first run (cold-start)
	Duration      time.Duration
	AudioDuration time.Duration
	RTF           float64
	Chunks        int
	Retries       int
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min     time.Duration
	Max     time.Duration
	Mean    time.Duration
	P95     time.Duration
	MeanRTF float64
}

// ComputeStats calculates min, max, mean and p95 over a slice of durations.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	// Nearest-rank percentile.
	rank := (95*len(sorted) + 99) / 100
	return Stats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: sum / time.Duration(len(sorted)),
		P95:  sorted[rank-1],
	}
}

// Summarize computes Stats for runs, including the mean RTF.
func Summarize(runs []RunResult) Stats {
	durations := make([]time.Duration, len(runs))
	var totalRTF float64
	for i, r := range runs {
		durations[i] = r.Duration
		totalRTF += r.RTF
	}
	s := ComputeStats(durations)
	if len(runs) > 0 {
		s.MeanRTF = totalRTF / float64(len(runs))
	}
	return s
}

// ---------------------------------------------------------------------------
// RTF helpers
// ---------------------------------------------------------------------------

// CalcRTF returns generation_duration / audio_duration. Values below 1 mean
// faster than real time. Returns 0 if audioDur is zero.
func CalcRTF(genDur, audioDur time.Duration) float64 {
	if audioDur <= 0 {
		return 0
	}
	return float64(genDur) / float64(audioDur)
}

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Driver
// ---------------------------------------------------------------------------

// Generator runs one generation session.
type Generator interface {
	Generate(ctx context.Context, req session.Request) (session.Result, error)
}

// Options controls a benchmark.
type Options struct {
	Runs int
	// Concurrency is the number of sessions in flight at once. Values above
	// the accelerator ceiling measure admission queueing.
	Concurrency int
}

// Run executes opts.Runs sessions of req and returns one result per run in
// index order. The first run is marked cold. Any failed session aborts the
// benchmark.
func Run(ctx context.Context, gen Generator, req session.Request, opts Options) ([]RunResult, error) {
	if opts.Runs < 1 {
		return nil, fmt.Errorf("runs must be at least 1, got %d", opts.Runs)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	results := make([]RunResult, opts.Runs)
	var next int
	var mu sync.Mutex
	claim := func() (int, bool) {
		mu.Lock()
		defer mu.Unlock()
		if next >= opts.Runs {
			return 0, false
		}
		next++
		return next - 1, true
	}

	g, gctx := errgroup.WithContext(ctx)
	for range min(opts.Concurrency, opts.Runs) {
		g.Go(func() error {
			for {
				i, ok := claim()
				if !ok {
					return nil
				}
				start := time.Now()
				res, err := gen.Generate(gctx, req)
				if err != nil {
					return fmt.Errorf("run %d failed: %w", i+1, err)
				}
				dur := time.Since(start)
				audioDur := audio.DurationOf(len(res.Samples), res.SampleRate)
				results[i] = RunResult{
					Index:         i,
					Cold:          i == 0,
					Duration:      dur,
					AudioDuration: audioDur,
					RTF:           CalcRTF(dur, audioDur),
					Chunks:        res.Chunks,
					Retries:       res.Retries,
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %12s  %6s  %7s  %8s\n", "Run", "Cold", "MS", "Audio(ms)", "Chunks", "Retries", "RTF")
	fmt.Fprintln(sb, strings.Repeat("-", 64))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10.1f  %12.1f  %6d  %7d  %8.3f\n",
			r.Index+1,
			cold,
			float64(r.Duration.Milliseconds()),
			float64(r.AudioDuration.Milliseconds()),
			r.Chunks,
			r.Retries,
			r.RTF,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 64))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (min)\n", "", "", float64(stats.Min.Milliseconds()))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (mean)\n", "", "", float64(stats.Mean.Milliseconds()))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (p95)\n", "", "", float64(stats.P95.Milliseconds()))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (max)\n", "", "", float64(stats.Max.Milliseconds()))
	fmt.Fprintf(sb, "mean RTF %.3f\n", stats.MeanRTF)

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	DurationMS float64 `json:"duration_ms"`
	AudioMS    float64 `json:"audio_ms"`
	Chunks     int     `json:"chunks"`
	Retries    int     `json:"retries"`
	RTF        float64 `json:"rtf"`
}

type jsonStats struct {
	MinMS   float64 `json:"min_ms"`
	MeanMS  float64 `json:"mean_ms"`
	P95MS   float64 `json:"p95_ms"`
	MaxMS   float64 `json:"max_ms"`
	MeanRTF float64 `json:"mean_rtf"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:   float64(stats.Min.Milliseconds()),
			MeanMS:  float64(stats.Mean.Milliseconds()),
			P95MS:   float64(stats.P95.Milliseconds()),
			MaxMS:   float64(stats.Max.Milliseconds()),
			MeanRTF: stats.MeanRTF,
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:      r.Index,
			Cold:       r.Cold,
			DurationMS: float64(r.Duration.Milliseconds()),
			AudioMS:    float64(r.AudioDuration.Milliseconds()),
			Chunks:     r.Chunks,
			Retries:    r.Retries,
			RTF:        r.RTF,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
