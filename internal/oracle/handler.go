package oracle

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/example/go-rtmusic/internal/audio"
)

// Handler serves a Backend over the websocket protocol spoken by Remote.
// Each connection is handled sequentially, mirroring the one-call-at-a-time
// client.
type Handler struct {
	backend Backend
	logger  *slog.Logger
}

// NewHandler returns an http.Handler exposing b.
func NewHandler(b Backend, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{backend: b, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("oracle websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(defaultReadLimit)

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				h.logger.Debug("oracle connection closed", slog.String("error", err.Error()))
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}

		resp := h.handle(ctx, data)
		out, err := EncodeResponse(resp)
		if err != nil {
			h.logger.Error("encode oracle response", slog.String("error", err.Error()))
			return
		}
		if err := conn.Write(ctx, websocket.MessageBinary, out); err != nil {
			return
		}
	}
}

func (h *Handler) handle(ctx context.Context, data []byte) Response {
	req, err := DecodeRequest(data)
	if err != nil {
		return Response{Type: TypeError, Code: CodeBadInput, Message: err.Error()}
	}

	switch req.Type {
	case TypeInfo:
		return Response{
			Type:       TypeInfo,
			ID:         req.ID,
			Model:      h.backend.Name(),
			Dimension:  h.backend.Dimension(),
			SampleRate: h.backend.SampleRate(),
		}
	case TypeEmbedText:
		vec, err := h.backend.EmbedText(ctx, req.Text)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return Response{Type: TypeEmbedding, ID: req.ID, Vector: vec}
	case TypeEmbedAudio:
		vec, err := h.backend.EmbedAudio(ctx, req.PCM, req.SampleRate)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return Response{Type: TypeEmbedding, ID: req.ID, Vector: vec}
	case TypeGenerate:
		history := make([]audio.Chunk, len(req.Context))
		for i, samples := range req.Context {
			history[i] = audio.Chunk{Index: i, Samples: samples}
		}
		d := time.Duration(req.ChunkSeconds * float64(time.Second))
		pcm, err := h.backend.Generate(ctx, req.Style, history, d)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return Response{Type: TypeAudio, ID: req.ID, PCM: pcm}
	default:
		return Response{Type: TypeError, ID: req.ID, Code: CodeBadInput, Message: "unknown request type " + req.Type}
	}
}

func errorResponse(id uint64, err error) Response {
	return Response{Type: TypeError, ID: id, Code: ErrorCode(err), Message: err.Error()}
}
