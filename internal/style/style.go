// Package style turns text and audio style inputs into embeddings and blends
// weighted embeddings into a single conditioning vector.
package style

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/go-rtmusic/internal/audio"
)

var (
	// ErrEncoding marks a style input the encoder cannot embed: empty text,
	// undecodable audio, or audio shorter than the analysis window.
	ErrEncoding = errors.New("style encoding failed")
	// ErrInvalidWeight marks a malformed weight set: no styles, a negative or
	// non-finite weight, or a zero total.
	ErrInvalidWeight = errors.New("invalid style weights")
)

// Kind distinguishes the two style input variants.
type Kind int

const (
	KindText Kind = iota
	KindAudio
)

func (k Kind) String() string {
	if k == KindAudio {
		return "audio"
	}
	return "text"
}

// Input is a text prompt or an audio clip describing a musical style.
// Values are immutable; constructors copy caller-owned buffers.
type Input struct {
	kind       Kind
	text       string
	samples    []float32
	sampleRate int
}

// Text returns a text style input.
func Text(prompt string) Input {
	return Input{kind: KindText, text: prompt}
}

// Audio returns an audio style input from mono samples at sampleRate.
func Audio(samples []float32, sampleRate int) Input {
	return Input{
		kind:       KindAudio,
		samples:    append([]float32(nil), samples...),
		sampleRate: sampleRate,
	}
}

// AudioFromWAV decodes a WAV clip into an audio style input.
func AudioFromWAV(data []byte) (Input, error) {
	dec, err := audio.DecodeWAV(data)
	if err != nil {
		return Input{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return Input{kind: KindAudio, samples: dec.Samples, sampleRate: dec.SampleRate}, nil
}

func (in Input) Kind() Kind             { return in.kind }
func (in Input) Prompt() string         { return in.text }
func (in Input) SampleRate() int        { return in.sampleRate }
func (in Input) NumSamples() int        { return len(in.samples) }
func (in Input) samplesView() []float32 { return in.samples }

// Duration returns the clip length for audio inputs and zero for text.
func (in Input) Duration() time.Duration {
	return audio.DurationOf(len(in.samples), in.sampleRate)
}

// String describes the input for logs without dumping audio data.
func (in Input) String() string {
	if in.kind == KindAudio {
		return fmt.Sprintf("audio(%s@%dHz)", in.Duration().Round(time.Millisecond), in.sampleRate)
	}
	return fmt.Sprintf("text(%q)", in.text)
}

// Weighted pairs a style input with its non-negative blend weight.
type Weighted struct {
	Input  Input
	Weight float64
}

// Embedding is a fixed-length style vector. It is never mutated once produced.
type Embedding []float32

// Dim returns the vector length.
func (e Embedding) Dim() int { return len(e) }
