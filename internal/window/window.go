// Package window holds the rolling audio context that conditions the next
// generated chunk.
package window

import (
	"time"

	"github.com/example/go-rtmusic/internal/audio"
)

// Window is a fixed-capacity FIFO of the most recent chunks, oldest first.
// It is owned by a single session and is not safe for concurrent use.
type Window struct {
	chunks []audio.Chunk
	limit  int
}

// New returns an empty window holding at most capacity chunks.
// Capacities below one are raised to one.
func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{chunks: make([]audio.Chunk, 0, capacity), limit: capacity}
}

// Capacity derives the window size from the configured context length and
// chunk duration. The context always holds at least one chunk.
func Capacity(contextLength, chunkDuration time.Duration) int {
	if chunkDuration <= 0 {
		return 1
	}
	n := int(contextLength / chunkDuration)
	if n < 1 {
		return 1
	}
	return n
}

// Push appends c, evicting the oldest chunk when the window is full.
func (w *Window) Push(c audio.Chunk) {
	if len(w.chunks) == w.limit {
		copy(w.chunks, w.chunks[1:])
		w.chunks[len(w.chunks)-1] = c
		return
	}
	w.chunks = append(w.chunks, c)
}

// Snapshot returns the current contents in chronological order. The slice is
// a fresh header over shared sample buffers, so later pushes do not reorder it.
func (w *Window) Snapshot() []audio.Chunk {
	out := make([]audio.Chunk, len(w.chunks))
	copy(out, w.chunks)
	return out
}

// Len returns the number of chunks currently held.
func (w *Window) Len() int { return len(w.chunks) }

// Cap returns the fixed capacity.
func (w *Window) Cap() int { return w.limit }

// Samples returns the total number of context samples held.
func (w *Window) Samples() int {
	n := 0
	for _, c := range w.chunks {
		n += c.Len()
	}
	return n
}
