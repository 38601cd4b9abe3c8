package style

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/example/go-rtmusic/internal/audio"
	"github.com/example/go-rtmusic/internal/text"
)

// Model is the style half of the model oracle: a joint text/audio encoder.
type Model interface {
	EmbedText(ctx context.Context, prompt string) ([]float32, error)
	EmbedAudio(ctx context.Context, samples []float32, sampleRate int) ([]float32, error)
	Dimension() int
}

// Cache stores text embeddings between requests. Implementations must be
// safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Put(ctx context.Context, key string, vec []float32) error
}

type adapterOptions struct {
	sampleRate int
	minAudio   time.Duration
	modelID    string
	cache      Cache
	logger     *slog.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*adapterOptions)

// WithSampleRate sets the rate audio inputs are resampled to before embedding.
func WithSampleRate(rate int) AdapterOption {
	return func(o *adapterOptions) { o.sampleRate = rate }
}

// WithMinAudio sets the shortest accepted audio clip.
func WithMinAudio(d time.Duration) AdapterOption {
	return func(o *adapterOptions) { o.minAudio = d }
}

// WithCache enables text embedding caching under the given model namespace.
func WithCache(c Cache, modelID string) AdapterOption {
	return func(o *adapterOptions) {
		o.cache = c
		o.modelID = modelID
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(o *adapterOptions) { o.logger = l }
}

// Adapter validates style inputs and embeds them through the style model.
// It holds no per-call state and may be used from many goroutines.
type Adapter struct {
	model Model
	opts  adapterOptions
}

// NewAdapter wraps model.
func NewAdapter(model Model, optFns ...AdapterOption) *Adapter {
	opts := adapterOptions{
		sampleRate: audio.DefaultSampleRate,
		minAudio:   time.Second,
		logger:     slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Adapter{model: model, opts: opts}
}

// Dimension returns the embedding length produced by the underlying model.
func (a *Adapter) Dimension() int { return a.model.Dimension() }

// Embed converts one style input into an embedding.
func (a *Adapter) Embed(ctx context.Context, in Input) (Embedding, error) {
	switch in.Kind() {
	case KindText:
		return a.embedText(ctx, in.Prompt())
	case KindAudio:
		return a.embedAudio(ctx, in)
	default:
		return nil, fmt.Errorf("%w: unknown input kind %d", ErrEncoding, in.Kind())
	}
}

func (a *Adapter) embedText(ctx context.Context, prompt string) (Embedding, error) {
	norm, err := text.Normalize(prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	key := a.cacheKey(norm)
	if a.opts.cache != nil {
		vec, ok, err := a.opts.cache.Get(ctx, key)
		switch {
		case err != nil:
			a.opts.logger.WarnContext(ctx, "embedding cache lookup failed", slog.String("error", err.Error()))
		case ok && len(vec) == a.model.Dimension():
			return Embedding(vec), nil
		}
	}

	vec, err := a.model.EmbedText(ctx, norm)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if err := a.checkVector(vec); err != nil {
		return nil, err
	}

	if a.opts.cache != nil {
		if err := a.opts.cache.Put(ctx, key, vec); err != nil {
			a.opts.logger.WarnContext(ctx, "embedding cache store failed", slog.String("error", err.Error()))
		}
	}
	return Embedding(vec), nil
}

func (a *Adapter) embedAudio(ctx context.Context, in Input) (Embedding, error) {
	switch {
	case in.SampleRate() <= 0:
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrEncoding, in.SampleRate())
	case in.NumSamples() == 0:
		return nil, fmt.Errorf("%w: empty audio", ErrEncoding)
	case !audio.Finite(in.samplesView()):
		return nil, fmt.Errorf("%w: audio contains non-finite samples", ErrEncoding)
	case in.Duration() < a.opts.minAudio:
		return nil, fmt.Errorf("%w: audio is %s, shorter than the %s analysis window",
			ErrEncoding, in.Duration().Round(time.Millisecond), a.opts.minAudio)
	}

	samples := audio.DCBlock(append([]float32(nil), in.samplesView()...), in.SampleRate())
	if in.SampleRate() != a.opts.sampleRate {
		var err error
		samples, err = resample(samples, in.SampleRate(), a.opts.sampleRate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
		}
	}

	vec, err := a.model.EmbedAudio(ctx, samples, a.opts.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("embed audio: %w", err)
	}
	if err := a.checkVector(vec); err != nil {
		return nil, err
	}
	return Embedding(vec), nil
}

func (a *Adapter) checkVector(vec []float32) error {
	if want := a.model.Dimension(); len(vec) != want {
		return fmt.Errorf("style model returned %d dimensions, want %d", len(vec), want)
	}
	if !audio.Finite(vec) {
		return errors.New("style model returned non-finite embedding")
	}
	return nil
}

func (a *Adapter) cacheKey(normalized string) string {
	sum := sha256.Sum256([]byte(a.opts.modelID + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}

func resample(samples []float32, from, to int) ([]float32, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler %d->%d Hz: %w", from, to, err)
	}

	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	out, err := rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample %d->%d Hz: %w", from, to, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("resample %d->%d Hz produced no samples", from, to)
	}

	res := make([]float32, len(out))
	for i, s := range out {
		res[i] = float32(s)
	}
	return res, nil
}
