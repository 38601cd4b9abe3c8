package style_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/go-rtmusic/internal/style"
)

// stubModel embeds text by prompt length and audio by mean amplitude so tests
// can predict vectors exactly.
type stubModel struct {
	dim       int
	textCalls atomic.Int32
	audioHits atomic.Int32
	lastRate  atomic.Int32
	lastLen   atomic.Int32
	failText  error
	vectors   map[string][]float32
}

func (m *stubModel) Dimension() int { return m.dim }

func (m *stubModel) EmbedText(_ context.Context, prompt string) ([]float32, error) {
	m.textCalls.Add(1)
	if m.failText != nil {
		return nil, m.failText
	}
	if v, ok := m.vectors[prompt]; ok {
		return append([]float32(nil), v...), nil
	}
	v := make([]float32, m.dim)
	for i := range v {
		v[i] = float32(len(prompt) + i)
	}
	return v, nil
}

func (m *stubModel) EmbedAudio(_ context.Context, samples []float32, rate int) ([]float32, error) {
	m.audioHits.Add(1)
	m.lastRate.Store(int32(rate))
	m.lastLen.Store(int32(len(samples)))
	v := make([]float32, m.dim)
	v[0] = 1
	return v, nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]float32
	err  error
}

func (c *mapCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Put(_ context.Context, key string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.data == nil {
		c.data = map[string][]float32{}
	}
	c.data[key] = vec
	return nil
}

func sine(n int, freq float64, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

// ---------------------------------------------------------------------------
// Input
// ---------------------------------------------------------------------------

func TestAudioInputCopiesSamples(t *testing.T) {
	buf := []float32{0.1, 0.2, 0.3}
	in := style.Audio(buf, 3)
	buf[0] = 9
	if in.NumSamples() != 3 {
		t.Fatalf("NumSamples = %d, want 3", in.NumSamples())
	}
	if in.Duration() != time.Second {
		t.Errorf("Duration = %v, want 1s", in.Duration())
	}
	if !strings.HasPrefix(in.String(), "audio(") {
		t.Errorf("String() = %q", in.String())
	}
}

func TestAudioFromWAVRejectsGarbage(t *testing.T) {
	_, err := style.AudioFromWAV([]byte("not a wav file"))
	if !errors.Is(err, style.ErrEncoding) {
		t.Fatalf("err = %v, want ErrEncoding", err)
	}
}

func TestKindString(t *testing.T) {
	if style.KindText.String() != "text" || style.KindAudio.String() != "audio" {
		t.Errorf("unexpected kind names %q %q", style.KindText, style.KindAudio)
	}
}

// ---------------------------------------------------------------------------
// Adapter
// ---------------------------------------------------------------------------

func TestAdapterEmbedText(t *testing.T) {
	m := &stubModel{dim: 4}
	a := style.NewAdapter(m)

	got, err := a.Embed(context.Background(), style.Text("  dark   techno "))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got.Dim() != 4 {
		t.Fatalf("Dim = %d, want 4", got.Dim())
	}
	// "dark techno" is 11 bytes after normalization.
	if got[0] != 11 {
		t.Errorf("got[0] = %f, want 11 (normalized prompt length)", got[0])
	}
}

func TestAdapterRejectsEmptyText(t *testing.T) {
	m := &stubModel{dim: 4}
	a := style.NewAdapter(m)

	for _, p := range []string{"", "   ", "\n\t"} {
		_, err := a.Embed(context.Background(), style.Text(p))
		if !errors.Is(err, style.ErrEncoding) {
			t.Errorf("Embed(%q) err = %v, want ErrEncoding", p, err)
		}
	}
	if m.textCalls.Load() != 0 {
		t.Errorf("model called %d times for empty prompts", m.textCalls.Load())
	}
}

func TestAdapterPropagatesModelError(t *testing.T) {
	boom := errors.New("boom")
	a := style.NewAdapter(&stubModel{dim: 2, failText: boom})
	_, err := a.Embed(context.Background(), style.Text("jazz"))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}

func TestAdapterRejectsWrongDimension(t *testing.T) {
	m := &stubModel{dim: 3, vectors: map[string][]float32{"odd": {1, 2}}}
	a := style.NewAdapter(m)
	if _, err := a.Embed(context.Background(), style.Text("odd")); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestAdapterTextCache(t *testing.T) {
	m := &stubModel{dim: 3}
	c := &mapCache{}
	a := style.NewAdapter(m, style.WithCache(c, "model-a"))
	ctx := context.Background()

	first, err := a.Embed(ctx, style.Text("funk  guitar"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Embed(ctx, style.Text(" funk\nguitar "))
	if err != nil {
		t.Fatal(err)
	}
	if m.textCalls.Load() != 1 {
		t.Errorf("model calls = %d, want 1 (second lookup served from cache)", m.textCalls.Load())
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}

	other := style.NewAdapter(m, style.WithCache(c, "model-b"))
	if _, err := other.Embed(ctx, style.Text("funk")); err != nil {
		t.Fatal(err)
	}
	if m.textCalls.Load() != 2 {
		t.Errorf("model calls = %d, want 2 (cache is namespaced by model)", m.textCalls.Load())
	}
}

func TestAdapterTextCacheIsCaseSensitive(t *testing.T) {
	m := &stubModel{dim: 2, vectors: map[string][]float32{
		"Funk": {1, 0},
		"funk": {0, 1},
	}}
	ctx := context.Background()

	uncached, err := style.NewAdapter(m).Embed(ctx, style.Text("funk"))
	if err != nil {
		t.Fatal(err)
	}

	a := style.NewAdapter(m, style.WithCache(&mapCache{}, "m"))
	if _, err := a.Embed(ctx, style.Text("Funk")); err != nil {
		t.Fatal(err)
	}
	cached, err := a.Embed(ctx, style.Text("funk"))
	if err != nil {
		t.Fatal(err)
	}
	for i := range uncached {
		if cached[i] != uncached[i] {
			t.Fatalf("embedding of %q = %v after caching %q; want %v", "funk", cached, "Funk", uncached)
		}
	}
}

func TestAdapterCacheFailureIsNotFatal(t *testing.T) {
	m := &stubModel{dim: 2}
	a := style.NewAdapter(m, style.WithCache(&mapCache{err: errors.New("disk full")}, "m"))
	if _, err := a.Embed(context.Background(), style.Text("ambient")); err != nil {
		t.Fatalf("Embed with failing cache: %v", err)
	}
}

func TestAdapterEmbedAudioValidation(t *testing.T) {
	const rate = 16000
	tests := []struct {
		name string
		in   style.Input
	}{
		{"empty", style.Audio(nil, rate)},
		{"zero rate", style.Audio(sine(rate, 440, rate), 0)},
		{"too short", style.Audio(sine(rate/4, 440, rate), rate)},
		{"nan", style.Audio(append(sine(rate, 440, rate), float32(math.NaN())), rate)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &stubModel{dim: 2}
			a := style.NewAdapter(m, style.WithSampleRate(rate))
			_, err := a.Embed(context.Background(), tt.in)
			if !errors.Is(err, style.ErrEncoding) {
				t.Fatalf("err = %v, want ErrEncoding", err)
			}
			if m.audioHits.Load() != 0 {
				t.Error("model called for invalid audio")
			}
		})
	}
}

func TestAdapterEmbedAudioSameRate(t *testing.T) {
	const rate = 16000
	m := &stubModel{dim: 2}
	a := style.NewAdapter(m, style.WithSampleRate(rate))

	if _, err := a.Embed(context.Background(), style.Audio(sine(2*rate, 220, rate), rate)); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := m.lastRate.Load(); got != rate {
		t.Errorf("model saw rate %d, want %d", got, rate)
	}
	if got := m.lastLen.Load(); got != 2*rate {
		t.Errorf("model saw %d samples, want %d", got, 2*rate)
	}
}

func TestAdapterEmbedAudioResamples(t *testing.T) {
	m := &stubModel{dim: 2}
	a := style.NewAdapter(m, style.WithSampleRate(48000))

	if _, err := a.Embed(context.Background(), style.Audio(sine(2*16000, 220, 16000), 16000)); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := m.lastRate.Load(); got != 48000 {
		t.Errorf("model saw rate %d, want 48000", got)
	}
	if got := m.lastLen.Load(); got <= 2*16000 {
		t.Errorf("model saw %d samples, want upsampled clip", got)
	}
}
