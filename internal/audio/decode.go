package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cwbudde/wav"
)

// Output WAV format.
const (
	DefaultSampleRate = 48000
	OutputChannels    = 1
	OutputBitDepth    = 16
)

// ErrFormatMismatch is returned when a WAV file cannot be interpreted as PCM audio.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// Decoded is a mono PCM buffer with its native sample rate.
type Decoded struct {
	Samples    []float32
	SampleRate int
}

// DecodeWAV decodes WAV bytes of any rate or channel count and returns
// mono float32 samples at the file's sample rate.
func DecodeWAV(data []byte) (Decoded, error) {
	if len(data) == 0 {
		return Decoded{}, errors.New("empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Decoded{}, errors.New("invalid WAV file")
	}

	rate := int(dec.SampleRate)
	chans := int(dec.NumChans)
	if rate <= 0 {
		return Decoded{}, fmt.Errorf("%w: sample rate %d", ErrFormatMismatch, rate)
	}
	if chans <= 0 {
		return Decoded{}, fmt.Errorf("%w: channels %d", ErrFormatMismatch, chans)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Decoded{}, fmt.Errorf("reading PCM data: %w", err)
	}

	return Decoded{Samples: Downmix(buf.Data, chans), SampleRate: rate}, nil
}
