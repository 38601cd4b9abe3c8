package style

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

// Encoder embeds a single style input.
type Encoder interface {
	Embed(ctx context.Context, in Input) (Embedding, error)
}

// Combined is the conditioning vector for one request together with the
// renormalized weights that produced it, in input order.
type Combined struct {
	Vector  Embedding
	Weights []float64
}

type combinerOptions struct {
	workers   int
	maxWeight float64
}

// CombinerOption configures a Combiner.
type CombinerOption func(*combinerOptions)

// WithWorkers bounds how many inputs are embedded concurrently. Zero or less
// means one goroutine per input.
func WithWorkers(n int) CombinerOption {
	return func(o *combinerOptions) { o.workers = n }
}

// WithMaxWeight rejects any single weight above max. Zero disables the bound.
func WithMaxWeight(max float64) CombinerOption {
	return func(o *combinerOptions) { o.maxWeight = max }
}

// Combiner merges weighted style inputs into one conditioning vector.
type Combiner struct {
	enc  Encoder
	opts combinerOptions
}

// NewCombiner returns a Combiner embedding through enc.
func NewCombiner(enc Encoder, optFns ...CombinerOption) *Combiner {
	var opts combinerOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Combiner{enc: enc, opts: opts}
}

// Combine validates weights, embeds every input (in parallel) and returns the
// weighted sum with weights renormalized to one. Weights are checked before
// any embedding work starts. Summation runs in input order so identical
// requests produce identical vectors.
func (c *Combiner) Combine(ctx context.Context, styles []Weighted) (Combined, error) {
	weights, err := c.NormalizeWeights(styles)
	if err != nil {
		return Combined{}, err
	}

	vecs := make([]Embedding, len(styles))
	g, gctx := errgroup.WithContext(ctx)
	if c.opts.workers > 0 {
		g.SetLimit(c.opts.workers)
	}
	for i := range styles {
		g.Go(func() error {
			v, err := c.enc.Embed(gctx, styles[i].Input)
			if err != nil {
				return fmt.Errorf("style %d %s: %w", i+1, styles[i].Input.Kind(), err)
			}
			vecs[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Combined{}, err
	}

	dim := len(vecs[0])
	for i, v := range vecs {
		if len(v) != dim || dim == 0 {
			return Combined{}, fmt.Errorf("style %d: embedding has %d dimensions, want %d", i+1, len(v), dim)
		}
	}

	acc := make([]float64, dim)
	for i, v := range vecs {
		w := weights[i]
		if w == 0 {
			continue
		}
		for j, x := range v {
			acc[j] += w * float64(x)
		}
	}

	out := make(Embedding, dim)
	for j, x := range acc {
		out[j] = float32(x)
	}
	return Combined{Vector: out, Weights: weights}, nil
}

// NormalizeWeights validates the weight set and returns the weights scaled
// to sum to one, in input order.
func (c *Combiner) NormalizeWeights(styles []Weighted) ([]float64, error) {
	if len(styles) == 0 {
		return nil, fmt.Errorf("%w: no style inputs", ErrInvalidWeight)
	}

	var total float64
	for i, s := range styles {
		w := s.Weight
		switch {
		case math.IsNaN(w) || math.IsInf(w, 0):
			return nil, fmt.Errorf("%w: style %d weight is not finite", ErrInvalidWeight, i+1)
		case w < 0:
			return nil, fmt.Errorf("%w: style %d weight %g is negative", ErrInvalidWeight, i+1, w)
		case c.opts.maxWeight > 0 && w > c.opts.maxWeight:
			return nil, fmt.Errorf("%w: style %d weight %g exceeds %g", ErrInvalidWeight, i+1, w, c.opts.maxWeight)
		}
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: total weight is zero", ErrInvalidWeight)
	}

	out := make([]float64, len(styles))
	for i, s := range styles {
		out[i] = s.Weight / total
	}
	return out, nil
}
