package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/example/go-rtmusic/internal/session"
	"github.com/example/go-rtmusic/internal/style"
)

// StyleSpec is one style in a JSON generation request. Exactly one of Text
// and AudioWAV is set; AudioWAV travels base64-encoded.
type StyleSpec struct {
	Text     string   `json:"text,omitempty"`
	AudioWAV []byte   `json:"audio_wav,omitempty"`
	Weight   *float64 `json:"weight,omitempty"`
}

// GenerateRequest is the JSON body accepted by POST /generate and by the
// NATS worker.
type GenerateRequest struct {
	Styles          []StyleSpec `json:"styles"`
	DurationSeconds float64     `json:"duration_seconds"`
}

// Session converts r into a session request. Prompts longer than
// maxPromptBytes are rejected; zero disables the check. A missing weight
// means 1.0 and a zero duration means the service default.
func (r GenerateRequest) Session(maxPromptBytes int) (session.Request, error) {
	if len(r.Styles) == 0 {
		return session.Request{}, fmt.Errorf("%w: no styles", session.ErrInvalidRequest)
	}
	d, err := Seconds(r.DurationSeconds)
	if err != nil {
		return session.Request{}, err
	}

	out := session.Request{Duration: d, Styles: make([]style.Weighted, 0, len(r.Styles))}
	for i, st := range r.Styles {
		w := 1.0
		if st.Weight != nil {
			w = *st.Weight
		}
		var in style.Input
		switch {
		case st.Text != "" && len(st.AudioWAV) > 0:
			return session.Request{}, fmt.Errorf("%w: style %d sets both text and audio", session.ErrInvalidRequest, i)
		case st.Text != "":
			if maxPromptBytes > 0 && len(st.Text) > maxPromptBytes {
				return session.Request{}, fmt.Errorf("%w: style %d prompt exceeds %d bytes", session.ErrInvalidRequest, i, maxPromptBytes)
			}
			in = style.Text(st.Text)
		case len(st.AudioWAV) > 0:
			in, err = style.AudioFromWAV(st.AudioWAV)
			if err != nil {
				return session.Request{}, fmt.Errorf("style %d: %w", i, err)
			}
		default:
			return session.Request{}, fmt.Errorf("%w: style %d has neither text nor audio", session.ErrInvalidRequest, i)
		}
		out.Styles = append(out.Styles, style.Weighted{Input: in, Weight: w})
	}
	return out, nil
}

// maxSeconds is the largest whole number of seconds a time.Duration holds.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// Seconds converts a non-negative, finite number of seconds to a duration.
func Seconds(s float64) (time.Duration, error) {
	if s < 0 || math.IsNaN(s) || s > maxSeconds {
		return 0, fmt.Errorf("%w: duration %g seconds", session.ErrInvalidRequest, s)
	}
	return time.Duration(math.Round(s * float64(time.Second))), nil
}
