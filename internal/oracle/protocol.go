package oracle

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/example/go-rtmusic/internal/style"
)

// Frame types exchanged with a remote inference server.
const (
	TypeGenerate   = "generate"
	TypeEmbedText  = "embed_text"
	TypeEmbedAudio = "embed_audio"
	TypeAudio      = "audio"
	TypeEmbedding  = "embedding"
	TypeError      = "error"
	TypeInfo       = "info"
)

// Error codes carried by TypeError frames.
const (
	CodeResourceExhausted = "resource_exhausted"
	CodeBadInput          = "bad_input"
	CodeInternal          = "internal"
)

// Request is a client-to-server frame.
type Request struct {
	Type         string      `msgpack:"type"`
	ID           uint64      `msgpack:"id"`
	Style        []float32   `msgpack:"style,omitempty"`
	Context      [][]float32 `msgpack:"context,omitempty"`
	ChunkSeconds float64     `msgpack:"chunk_seconds,omitempty"`
	Text         string      `msgpack:"text,omitempty"`
	PCM          []float32   `msgpack:"pcm,omitempty"`
	SampleRate   int         `msgpack:"sample_rate,omitempty"`
}

// Response is a server-to-client frame.
type Response struct {
	Type       string    `msgpack:"type"`
	ID         uint64    `msgpack:"id"`
	PCM        []float32 `msgpack:"pcm,omitempty"`
	Vector     []float32 `msgpack:"vector,omitempty"`
	Code       string    `msgpack:"code,omitempty"`
	Message    string    `msgpack:"message,omitempty"`
	Model      string    `msgpack:"model,omitempty"`
	Dimension  int       `msgpack:"dimension,omitempty"`
	SampleRate int       `msgpack:"sample_rate,omitempty"`
}

// EncodeRequest serialises r.
func EncodeRequest(r Request) ([]byte, error) {
	data, err := msgpack.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", r.Type, err)
	}
	return data, nil
}

// DecodeRequest parses a request frame.
func DecodeRequest(data []byte) (Request, error) {
	var r Request
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return r, nil
}

// EncodeResponse serialises r.
func EncodeResponse(r Response) ([]byte, error) {
	data, err := msgpack.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("encode %s response: %w", r.Type, err)
	}
	return data, nil
}

// DecodeResponse parses a response frame.
func DecodeResponse(data []byte) (Response, error) {
	var r Response
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return r, nil
}

// Err converts an error frame into the matching sentinel.
func (r Response) Err() error {
	if r.Type != TypeError {
		return nil
	}
	switch r.Code {
	case CodeResourceExhausted:
		return fmt.Errorf("%w: %s", ErrResourceExhausted, r.Message)
	case CodeBadInput:
		return fmt.Errorf("%w: %s", style.ErrEncoding, r.Message)
	default:
		return fmt.Errorf("%w: %s: %s", ErrOracle, r.Code, r.Message)
	}
}

// ErrorCode maps an error onto the wire code a server should reply with.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrResourceExhausted):
		return CodeResourceExhausted
	case errors.Is(err, style.ErrEncoding):
		return CodeBadInput
	default:
		return CodeInternal
	}
}
