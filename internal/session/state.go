package session

import "time"

// State is a generation session's lifecycle position.
type State int

const (
	StateCreated State = iota
	StateAwaitingSlot
	StateGenerating
	StateStitching
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateCreated:      "created",
	StateAwaitingSlot: "awaiting_slot",
	StateGenerating:   "generating",
	StateStitching:    "stitching",
	StateCompleted:    "completed",
	StateFailed:       "failed",
	StateCancelled:    "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Event is emitted on every state transition. Chunk is the chunk index for
// Generating and Stitching events and -1 otherwise. Elapsed is the stitched
// duration, capped at the target, on Stitching and Completed events.
type Event struct {
	SessionID string
	State     State
	Chunk     int
	Elapsed   time.Duration
}
