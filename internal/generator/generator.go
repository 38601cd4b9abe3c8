// Package generator produces fixed-duration audio chunks from the model
// oracle, retrying transient failures.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/go-rtmusic/internal/audio"
	"github.com/example/go-rtmusic/internal/oracle"
	"github.com/example/go-rtmusic/internal/style"
)

// RetryPolicy bounds how often one chunk is regenerated after an
// oracle.ErrOracle failure.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryPolicy retries each chunk once, immediately.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1}
}

// Result is one generated chunk and the number of retries it took.
type Result struct {
	Chunk   audio.Chunk
	Retries int
}

type options struct {
	retry   RetryPolicy
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Generator.
type Option func(*options)

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithCallTimeout bounds a single oracle call. Zero means no bound.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Generator is the only caller of oracle.Model.Generate.
type Generator struct {
	model         oracle.Model
	chunkDuration time.Duration
	chunkSamples  int
	opts          options
}

// New returns a Generator producing chunks of chunkDuration.
func New(model oracle.Model, chunkDuration time.Duration, optFns ...Option) (*Generator, error) {
	opts := options{retry: DefaultRetryPolicy(), logger: slog.Default()}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.retry.MaxRetries < 0 {
		return nil, fmt.Errorf("negative retry count %d", opts.retry.MaxRetries)
	}
	n := audio.SamplesFor(chunkDuration, model.SampleRate())
	if n <= 0 {
		return nil, fmt.Errorf("chunk duration %s yields no samples at %d Hz", chunkDuration, model.SampleRate())
	}
	return &Generator{model: model, chunkDuration: chunkDuration, chunkSamples: n, opts: opts}, nil
}

// ChunkDuration returns the configured chunk duration.
func (g *Generator) ChunkDuration() time.Duration { return g.chunkDuration }

// ChunkSamples returns the exact sample count of every chunk.
func (g *Generator) ChunkSamples() int { return g.chunkSamples }

// SampleRate returns the model sample rate.
func (g *Generator) SampleRate() int { return g.model.SampleRate() }

// Generate produces chunk index conditioned on cond and the context
// snapshot. The oracle call itself is not interrupted by ctx; ctx is only
// consulted between attempts. ErrOracle failures are retried per the policy;
// ErrResourceExhausted and everything else is returned at once.
func (g *Generator) Generate(ctx context.Context, index int, cond style.Embedding, history []audio.Chunk) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= g.opts.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			g.opts.logger.WarnContext(ctx, "retrying chunk",
				slog.Int("chunk", index),
				slog.Int("attempt", attempt+1),
				slog.String("error", lastErr.Error()),
			)
			if err := sleep(ctx, g.opts.retry.Backoff); err != nil {
				return Result{}, err
			}
		}

		samples, err := g.call(ctx, cond, history)
		if err == nil {
			return Result{Chunk: audio.Chunk{Index: index, Samples: samples}, Retries: attempt}, nil
		}
		if !errors.Is(err, oracle.ErrOracle) || errors.Is(err, oracle.ErrResourceExhausted) {
			return Result{}, fmt.Errorf("chunk %d: %w", index, err)
		}
		lastErr = err
	}
	return Result{}, fmt.Errorf("chunk %d failed after %d attempts: %w", index, g.opts.retry.MaxRetries+1, lastErr)
}

func (g *Generator) call(ctx context.Context, cond style.Embedding, history []audio.Chunk) ([]float32, error) {
	callCtx := context.WithoutCancel(ctx)
	if g.opts.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, g.opts.timeout)
		defer cancel()
	}

	samples, err := g.model.Generate(callCtx, cond, history, g.chunkDuration)
	if err != nil {
		if errors.Is(err, oracle.ErrOracle) || errors.Is(err, oracle.ErrResourceExhausted) {
			return nil, err
		}
		if callCtx.Err() != nil {
			return nil, fmt.Errorf("%w: call timed out after %s: %v", oracle.ErrOracle, g.opts.timeout, err)
		}
		return nil, fmt.Errorf("%w: %v", oracle.ErrOracle, err)
	}
	if len(samples) != g.chunkSamples {
		return nil, fmt.Errorf("%w: got %d samples, want %d", oracle.ErrOracle, len(samples), g.chunkSamples)
	}
	if !audio.Finite(samples) {
		return nil, fmt.Errorf("%w: non-finite samples", oracle.ErrOracle)
	}
	return samples, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
