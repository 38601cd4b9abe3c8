// Package session drives one generation request from style inputs to a
// stitched waveform while holding an accelerator lease.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/go-rtmusic/internal/audio"
	"github.com/example/go-rtmusic/internal/generator"
	"github.com/example/go-rtmusic/internal/lease"
	"github.com/example/go-rtmusic/internal/style"
	"github.com/example/go-rtmusic/internal/window"
)

var (
	// ErrInvalidRequest marks a request with no styles or an out-of-range
	// duration.
	ErrInvalidRequest = errors.New("invalid generation request")
	// ErrCancelled marks a session stopped by its caller. The caller's
	// context error is wrapped alongside it.
	ErrCancelled = errors.New("generation cancelled")
)

// Config holds the generation parameters shared by every session.
type Config struct {
	ChunkDuration   time.Duration
	ContextLength   time.Duration
	OverlapFraction float64
	Curve           audio.Curve
	MinDuration     time.Duration
	MaxDuration     time.Duration
}

// Validate checks that the parameters describe a workable loop.
func (c Config) Validate() error {
	switch {
	case c.ChunkDuration <= 0:
		return fmt.Errorf("chunk duration must be positive, got %s", c.ChunkDuration)
	case c.ContextLength < c.ChunkDuration:
		return fmt.Errorf("context length %s shorter than one chunk (%s)", c.ContextLength, c.ChunkDuration)
	case c.OverlapFraction < 0 || c.OverlapFraction >= 0.5 || math.IsNaN(c.OverlapFraction):
		return fmt.Errorf("crossfade overlap fraction must be in [0, 0.5), got %g", c.OverlapFraction)
	case c.MinDuration <= 0 || c.MaxDuration < c.MinDuration:
		return fmt.Errorf("invalid duration bounds [%s, %s]", c.MinDuration, c.MaxDuration)
	}
	return nil
}

// Request is one generation request.
type Request struct {
	Styles   []style.Weighted
	Duration time.Duration
}

// Result is a completed session's output.
type Result struct {
	SessionID  string
	State      State
	Samples    []float32
	SampleRate int
	Chunks     int
	Blends     int
	Retries    int
	Elapsed    time.Duration
	Weights    []float64
}

// Combiner produces the conditioning vector for a request.
type Combiner interface {
	Combine(ctx context.Context, styles []style.Weighted) (style.Combined, error)
}

// ChunkGenerator produces successive chunks.
type ChunkGenerator interface {
	Generate(ctx context.Context, index int, cond style.Embedding, history []audio.Chunk) (generator.Result, error)
	ChunkSamples() int
	SampleRate() int
}

type options struct {
	logger *slog.Logger
	hook   func(Event)
}

// Option configures an Orchestrator.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStateHook registers fn to observe every state transition. fn runs
// synchronously and must not block.
func WithStateHook(fn func(Event)) Option {
	return func(o *options) { o.hook = fn }
}

// Orchestrator runs generation sessions. It is safe for concurrent use;
// sessions share only the lease pool and the oracle behind the generator.
type Orchestrator struct {
	cfg      Config
	combiner Combiner
	gen      ChunkGenerator
	pool     *lease.Pool
	overlap  int
	capacity int
	opts     options
}

// New assembles an orchestrator.
func New(cfg Config, combiner Combiner, gen ChunkGenerator, pool *lease.Pool, optFns ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := options{logger: slog.Default()}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{
		cfg:      cfg,
		combiner: combiner,
		gen:      gen,
		pool:     pool,
		overlap:  int(math.Round(cfg.OverlapFraction * float64(gen.ChunkSamples()))),
		capacity: window.Capacity(cfg.ContextLength, cfg.ChunkDuration),
		opts:     opts,
	}, nil
}

// Config returns the orchestrator's generation parameters.
func (o *Orchestrator) Config() Config { return o.cfg }

// SampleRate returns the rate of generated audio.
func (o *Orchestrator) SampleRate() int { return o.gen.SampleRate() }

// ChunkCount is the number of chunks needed to cover target samples with
// chunks of chunk samples overlapping by overlap: the smallest n >= 1 with
// n*chunk - (n-1)*overlap >= target.
func ChunkCount(target, chunk, overlap int) int {
	if target <= chunk {
		return 1
	}
	step := chunk - overlap
	return 1 + (target-chunk+step-1)/step
}

// Run executes one session to a terminal state. Partial audio is never
// returned: on failure or cancellation the Result carries only the session
// ID and final state.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	s := &run{
		id:     uuid.NewString(),
		hook:   o.opts.hook,
		logger: o.opts.logger,
	}
	s.logger = s.logger.With(slog.String("session_id", s.id))
	s.transition(StateCreated, -1, 0)

	res, err := o.run(ctx, s, req)
	switch {
	case err == nil:
		res.State = StateCompleted
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCancelled)):
		if !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		res = Result{State: StateCancelled}
	default:
		res = Result{State: StateFailed}
	}
	res.SessionID = s.id
	s.finish(res, err)
	if s.lease != nil {
		s.lease.Release()
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, s *run, req Request) (Result, error) {
	if err := o.validate(req); err != nil {
		return Result{}, err
	}
	for i, st := range req.Styles {
		s.logger.DebugContext(ctx, "style input",
			slog.Int("position", i),
			slog.String("kind", st.Input.Kind().String()),
			slog.Float64("weight", st.Weight),
		)
	}

	combined, err := o.combiner.Combine(ctx, req.Styles)
	if err != nil {
		return Result{}, fmt.Errorf("combine styles: %w", err)
	}

	s.transition(StateAwaitingSlot, -1, 0)
	waitStart := time.Now()
	l, err := o.pool.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	s.lease = l
	s.logger.InfoContext(ctx, "accelerator lease acquired",
		slog.Duration("waited", time.Since(waitStart)),
		slog.Int("in_use", o.pool.InUse()),
	)

	target := audio.SamplesFor(req.Duration, o.gen.SampleRate())
	plan := ChunkCount(target, o.gen.ChunkSamples(), o.overlap)
	win := window.New(o.capacity)
	st := audio.NewStitcher(o.overlap, o.cfg.Curve)

	chunks := make(chan generator.Result)
	g, gctx := errgroup.WithContext(ctx)

	retries := 0
	g.Go(func() error {
		defer close(chunks)
		for k := range plan {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("%w before chunk %d: %w", ErrCancelled, k, err)
			}
			s.transition(StateGenerating, k, 0)
			res, err := o.gen.Generate(gctx, k, combined.Vector, win.Snapshot())
			if err != nil {
				return err
			}
			win.Push(res.Chunk)
			retries += res.Retries
			select {
			case chunks <- res:
			case <-gctx.Done():
				return fmt.Errorf("%w after chunk %d: %w", ErrCancelled, k, gctx.Err())
			}
		}
		return nil
	})

	g.Go(func() error {
		for res := range chunks {
			if err := st.Append(res.Chunk); err != nil {
				return fmt.Errorf("stitch chunk %d: %w", res.Chunk.Index, err)
			}
			elapsed := audio.DurationOf(min(target, st.Len()), o.gen.SampleRate())
			s.transition(StateStitching, res.Chunk.Index, elapsed)
			s.logger.DebugContext(gctx, "chunk stitched",
				slog.Int("chunk", res.Chunk.Index),
				slog.Int("retries", res.Retries),
				slog.Int64("elapsed_ms", elapsed.Milliseconds()),
			)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	samples := st.Finish(target)
	return Result{
		Samples:    samples,
		SampleRate: o.gen.SampleRate(),
		Chunks:     st.Chunks(),
		Blends:     st.Blends(),
		Retries:    retries,
		Elapsed:    audio.DurationOf(len(samples), o.gen.SampleRate()),
		Weights:    combined.Weights,
	}, nil
}

func (o *Orchestrator) validate(req Request) error {
	if len(req.Styles) == 0 {
		return fmt.Errorf("%w: no style inputs", ErrInvalidRequest)
	}
	if req.Duration < o.cfg.MinDuration || req.Duration > o.cfg.MaxDuration {
		return fmt.Errorf("%w: duration %s outside [%s, %s]",
			ErrInvalidRequest, req.Duration, o.cfg.MinDuration, o.cfg.MaxDuration)
	}
	return nil
}

// run is the per-session bookkeeping shared by the producer and stitcher
// goroutines.
type run struct {
	id     string
	hook   func(Event)
	logger *slog.Logger
	lease  *lease.Lease

	mu    sync.Mutex
	state State
	start time.Time
}

func (s *run) transition(to State, chunk int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	if to == StateCreated {
		s.start = time.Now()
	}
	s.state = to
	if s.hook != nil {
		s.hook(Event{SessionID: s.id, State: to, Chunk: chunk, Elapsed: elapsed})
	}
}

func (s *run) finish(res Result, err error) {
	s.transition(res.State, -1, res.Elapsed)
	attrs := []any{
		slog.String("state", res.State.String()),
		slog.Duration("took", time.Since(s.start)),
	}
	if err != nil {
		s.logger.Warn("generation session ended", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	s.logger.Info("generation session ended", append(attrs,
		slog.Int("chunks", res.Chunks),
		slog.Int("retries", res.Retries),
		slog.Int64("elapsed_ms", res.Elapsed.Milliseconds()),
	)...)
}
