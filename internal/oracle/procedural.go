package oracle

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/example/go-rtmusic/internal/audio"
	"github.com/example/go-rtmusic/internal/style"
	"github.com/example/go-rtmusic/internal/text"
)

const (
	proceduralPartials = 4
	analysisFrame      = 2048
	// Samples over which a new chunk converges from the previous chunk's
	// last sample onto its own waveform.
	continuationRamp = 256
)

// Procedural is a lightweight local model. Embeddings are feature-hashed
// prompt tokens or audio frame statistics; generated audio is an additive
// tone whose partials are chosen by the conditioning vector, with random
// phase and amplitude jitter so repeated calls differ like a sampled model.
type Procedural struct {
	dim        int
	sampleRate int
	latency    time.Duration
}

// ProceduralOption configures a Procedural model.
type ProceduralOption func(*Procedural)

// WithLatency adds a fixed delay to every Generate call to mimic inference
// time.
func WithLatency(d time.Duration) ProceduralOption {
	return func(p *Procedural) { p.latency = d }
}

// NewProcedural returns a procedural model producing dim-sized embeddings and
// audio at sampleRate.
func NewProcedural(dim, sampleRate int, opts ...ProceduralOption) (*Procedural, error) {
	if dim < proceduralPartials {
		return nil, fmt.Errorf("embedding dimension %d too small (min %d)", dim, proceduralPartials)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	p := &Procedural{dim: dim, sampleRate: sampleRate}
	for _, fn := range opts {
		fn(p)
	}
	return p, nil
}

func (p *Procedural) Name() string    { return fmt.Sprintf("procedural-%d", p.dim) }
func (p *Procedural) Dimension() int  { return p.dim }
func (p *Procedural) SampleRate() int { return p.sampleRate }
func (p *Procedural) Close() error    { return nil }

// EmbedText hashes each token and adjacent token pair into the vector.
func (p *Procedural) EmbedText(_ context.Context, prompt string) ([]float32, error) {
	tokens := text.Tokenize(prompt)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: prompt has no words", style.ErrEncoding)
	}
	vec := make([]float64, p.dim)
	for i, tok := range tokens {
		p.hashInto(vec, tok, 1)
		if i > 0 {
			p.hashInto(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return normalize(vec), nil
}

// EmbedAudio hashes quantised per-frame loudness and zero-crossing rate.
func (p *Procedural) EmbedAudio(_ context.Context, samples []float32, sampleRate int) ([]float32, error) {
	if len(samples) < analysisFrame {
		return nil, fmt.Errorf("%w: clip shorter than one analysis frame", style.ErrEncoding)
	}
	vec := make([]float64, p.dim)
	for start := 0; start+analysisFrame <= len(samples); start += analysisFrame / 2 {
		frame := samples[start : start+analysisFrame]
		var energy float64
		crossings := 0
		for i, s := range frame {
			energy += float64(s) * float64(s)
			if i > 0 && (s >= 0) != (frame[i-1] >= 0) {
				crossings++
			}
		}
		rms := math.Sqrt(energy / float64(len(frame)))
		zcr := float64(crossings) * float64(sampleRate) / float64(2*len(frame))
		loud := int(math.Round(20 * math.Log10(rms+1e-9) / 3))
		pitch := int(math.Round(math.Log2(zcr+1) * 4))
		p.hashInto(vec, fmt.Sprintf("l%d", loud), 1)
		p.hashInto(vec, fmt.Sprintf("z%d", pitch), 1)
		p.hashInto(vec, fmt.Sprintf("l%dz%d", loud, pitch), 0.5)
	}
	return normalize(vec), nil
}

// Generate synthesises one chunk. The first samples ramp from the last
// sample of the most recent context chunk so consecutive chunks join without
// a step.
func (p *Procedural) Generate(ctx context.Context, cond style.Embedding, history []audio.Chunk, chunkDuration time.Duration) ([]float32, error) {
	if len(cond) != p.dim {
		return nil, fmt.Errorf("%w: conditioning has %d dimensions, want %d", ErrOracle, len(cond), p.dim)
	}
	n := audio.SamplesFor(chunkDuration, p.sampleRate)
	if n <= 0 {
		return nil, fmt.Errorf("%w: chunk duration %s yields no samples", ErrOracle, chunkDuration)
	}
	if p.latency > 0 {
		t := time.NewTimer(p.latency)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %v", ErrOracle, ctx.Err())
		}
	}

	freqs, amps := p.partials(cond)
	phases := make([]float64, len(freqs))
	for i := range phases {
		phases[i] = rand.Float64() * 2 * math.Pi
		amps[i] *= 0.9 + 0.2*rand.Float64()
	}

	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(p.sampleRate)
		var v float64
		for k, f := range freqs {
			v += amps[k] * math.Sin(2*math.Pi*f*t+phases[k])
		}
		out[i] = float32(v)
	}

	if last, ok := lastSample(history); ok {
		offset := last - out[0]
		ramp := min(continuationRamp, n)
		for i := range ramp {
			out[i] += offset * float32(1-float64(i)/float64(ramp))
		}
	}
	return out, nil
}

// partials maps the strongest vector components to pitches on a
// twelve-tone scale above A2.
func (p *Procedural) partials(cond style.Embedding) ([]float64, []float64) {
	type comp struct {
		idx int
		mag float64
	}
	top := make([]comp, 0, proceduralPartials)
	for i, v := range cond {
		c := comp{idx: i, mag: math.Abs(float64(v))}
		if len(top) < proceduralPartials {
			top = append(top, c)
			continue
		}
		weakest := 0
		for j := range top {
			if top[j].mag < top[weakest].mag {
				weakest = j
			}
		}
		if c.mag > top[weakest].mag {
			top[weakest] = c
		}
	}

	freqs := make([]float64, len(top))
	amps := make([]float64, len(top))
	var total float64
	for _, c := range top {
		total += c.mag
	}
	for i, c := range top {
		semitone := float64(c.idx % 36)
		freqs[i] = 110 * math.Pow(2, semitone/12)
		if total > 0 {
			amps[i] = 0.6 * c.mag / total
		} else {
			amps[i] = 0.6 / float64(len(top))
		}
	}
	return freqs, amps
}

func (p *Procedural) hashInto(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func normalize(vec []float64) []float32 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(vec))
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func lastSample(history []audio.Chunk) (float32, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if n := len(history[i].Samples); n > 0 {
			return history[i].Samples[n-1], true
		}
	}
	return 0, false
}
