// Package oracle defines the call contract of the generative music model and
// provides two backends: a local procedural model and a remote inference
// server reached over a websocket.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/example/go-rtmusic/internal/audio"
	"github.com/example/go-rtmusic/internal/style"
)

var (
	// ErrOracle is a transient model or accelerator failure. Callers may retry.
	ErrOracle = errors.New("model oracle failed")
	// ErrResourceExhausted reports that the accelerator ran out of memory.
	// It is never retried.
	ErrResourceExhausted = errors.New("accelerator resource exhausted")
)

// Model generates one chunk of audio conditioned on a style vector and the
// preceding chunks. Calls are blocking and non-preemptible; an empty context
// is valid and starts a new stream.
type Model interface {
	Generate(ctx context.Context, conditioning style.Embedding, context []audio.Chunk, chunkDuration time.Duration) ([]float32, error)
	// SampleRate is the rate of the samples Generate returns.
	SampleRate() int
}

// StyleModel is the encoder half of the oracle.
type StyleModel = style.Model

// Backend is a complete oracle: generation plus style encoding.
type Backend interface {
	Model
	StyleModel
	// Name identifies the backend and model, used to namespace caches.
	Name() string
	Close() error
}
