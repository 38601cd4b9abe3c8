// Package doctor provides environment preflight checks for rtmusic.
package doctor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/example/go-rtmusic/internal/audio"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// ProbeFunc returns a short description of a reachable component or an error
// if it is unavailable.
type ProbeFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// Validate reports configuration inconsistencies.
	Validate func() error
	// Oracle opens the configured backend and describes it.
	Oracle ProbeFunc
	// SkipOracle skips the backend check (for example when the config is invalid).
	SkipOracle bool
	// CacheDir is the on-disk embedding cache. Empty means in-memory.
	CacheDir string
	// NATS connects to the worker's NATS server and describes it.
	NATS ProbeFunc
	// SkipNATS skips the NATS check when no URL is configured.
	SkipNATS bool
	// StyleClips are audio style references that must decode as WAV.
	StyleClips []string
	// MinClip is the shortest clip accepted as an audio style.
	MinClip time.Duration
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- configuration ----------------------------------------------------
	if cfg.Validate != nil {
		if err := cfg.Validate(); err != nil {
			res.fail(fmt.Sprintf("config: %v", err))
			fmt.Fprintf(w, "%s config: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s config: ok\n", PassMark)
		}
	}

	// ---- oracle backend ---------------------------------------------------
	switch {
	case cfg.SkipOracle:
		fmt.Fprintf(w, "%s oracle backend: skipped\n", PassMark)
	case cfg.Oracle == nil:
		res.fail("oracle backend: no probe configured")
		fmt.Fprintf(w, "%s oracle backend: no probe configured\n", FailMark)
	default:
		desc, err := cfg.Oracle()
		if err != nil {
			res.fail(fmt.Sprintf("oracle backend: %v", err))
			fmt.Fprintf(w, "%s oracle backend: unreachable (%v)\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s oracle backend: %s\n", PassMark, desc)
		}
	}

	// ---- embedding cache --------------------------------------------------
	if cfg.CacheDir == "" {
		fmt.Fprintf(w, "%s embedding cache: in-memory\n", PassMark)
	} else if err := checkWritable(cfg.CacheDir); err != nil {
		res.fail(fmt.Sprintf("embedding cache %q: %v", cfg.CacheDir, err))
		fmt.Fprintf(w, "%s embedding cache %s: %v\n", FailMark, cfg.CacheDir, err)
	} else {
		fmt.Fprintf(w, "%s embedding cache: %s\n", PassMark, cfg.CacheDir)
	}

	// ---- NATS -------------------------------------------------------------
	if cfg.SkipNATS || cfg.NATS == nil {
		fmt.Fprintf(w, "%s nats: skipped\n", PassMark)
	} else {
		desc, err := cfg.NATS()
		if err != nil {
			res.fail(fmt.Sprintf("nats: %v", err))
			fmt.Fprintf(w, "%s nats: unreachable (%v)\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s nats: %s\n", PassMark, desc)
		}
	}

	// ---- style clips ------------------------------------------------------
	for _, path := range cfg.StyleClips {
		if err := checkClip(path, cfg.MinClip); err != nil {
			res.fail(fmt.Sprintf("style clip %q: %v", path, err))
			fmt.Fprintf(w, "%s style clip %s: %v\n", FailMark, path, err)
		} else {
			fmt.Fprintf(w, "%s style clip: %s\n", PassMark, path)
		}
	}

	return res
}

// checkWritable creates dir if needed and verifies a file can be written in it.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

// checkClip returns an error if path is missing, is not a WAV file or is
// shorter than minClip.
func checkClip(path string, minClip time.Duration) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("not found: %w", err)
	}
	dec, err := audio.DecodeWAV(data)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if d := audio.DurationOf(len(dec.Samples), dec.SampleRate); d < minClip {
		return fmt.Errorf("%s is shorter than %s", d.Round(time.Millisecond), minClip)
	}
	return nil
}
