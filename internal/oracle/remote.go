package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/example/go-rtmusic/internal/audio"
	"github.com/example/go-rtmusic/internal/style"
)

// Chunks travel as float32 PCM; a 2 s chunk at 48 kHz is ~384 KiB, well
// above the websocket library's default read limit.
const defaultReadLimit = 64 << 20

type remoteOptions struct {
	header    http.Header
	readLimit int64
	logger    *slog.Logger
}

// RemoteOption configures a Remote oracle.
type RemoteOption func(*remoteOptions)

// WithHeader adds an HTTP header to the websocket handshake.
func WithHeader(key, value string) RemoteOption {
	return func(o *remoteOptions) { o.header.Add(key, value) }
}

// WithReadLimit overrides the maximum frame size accepted from the server.
func WithReadLimit(n int64) RemoteOption {
	return func(o *remoteOptions) { o.readLimit = n }
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(o *remoteOptions) { o.logger = l }
}

// Remote talks to an inference server over one websocket connection using
// msgpack frames. Calls are serialised; a broken connection is redialled on
// the next call.
type Remote struct {
	url  string
	opts remoteOptions

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64

	model      string
	dim        int
	sampleRate int
}

// DialRemote connects to url and asks the server for its model description.
func DialRemote(ctx context.Context, url string, optFns ...RemoteOption) (*Remote, error) {
	opts := remoteOptions{
		header:    http.Header{},
		readLimit: defaultReadLimit,
		logger:    slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	r := &Remote{url: url, opts: opts}

	resp, err := r.roundTrip(ctx, Request{Type: TypeInfo}, TypeInfo)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	if resp.Dimension <= 0 || resp.SampleRate <= 0 {
		_ = r.Close()
		return nil, fmt.Errorf("%w: server reported dimension %d, sample rate %d", ErrOracle, resp.Dimension, resp.SampleRate)
	}
	r.model = resp.Model
	r.dim = resp.Dimension
	r.sampleRate = resp.SampleRate
	opts.logger.Info("connected to remote oracle",
		slog.String("url", url),
		slog.String("model", r.model),
		slog.Int("dimension", r.dim),
		slog.Int("sample_rate", r.sampleRate),
	)
	return r, nil
}

func (r *Remote) Name() string    { return "remote:" + r.model }
func (r *Remote) Dimension() int  { return r.dim }
func (r *Remote) SampleRate() int { return r.sampleRate }

// Close closes the connection, if any.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close(websocket.StatusNormalClosure, "done")
	r.conn = nil
	return err
}

func (r *Remote) Generate(ctx context.Context, cond style.Embedding, history []audio.Chunk, chunkDuration time.Duration) ([]float32, error) {
	req := Request{
		Type:         TypeGenerate,
		Style:        cond,
		ChunkSeconds: chunkDuration.Seconds(),
		SampleRate:   r.sampleRate,
	}
	if len(history) > 0 {
		req.Context = make([][]float32, len(history))
		for i, c := range history {
			req.Context[i] = c.Samples
		}
	}
	resp, err := r.roundTrip(ctx, req, TypeAudio)
	if err != nil {
		return nil, err
	}
	return resp.PCM, nil
}

func (r *Remote) EmbedText(ctx context.Context, prompt string) ([]float32, error) {
	resp, err := r.roundTrip(ctx, Request{Type: TypeEmbedText, Text: prompt}, TypeEmbedding)
	if err != nil {
		return nil, err
	}
	return resp.Vector, nil
}

func (r *Remote) EmbedAudio(ctx context.Context, samples []float32, sampleRate int) ([]float32, error) {
	resp, err := r.roundTrip(ctx, Request{Type: TypeEmbedAudio, PCM: samples, SampleRate: sampleRate}, TypeEmbedding)
	if err != nil {
		return nil, err
	}
	return resp.Vector, nil
}

func (r *Remote) roundTrip(ctx context.Context, req Request, want string) (Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureConn(ctx); err != nil {
		return Response{}, err
	}

	r.nextID++
	req.ID = r.nextID
	data, err := EncodeRequest(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrOracle, err)
	}
	if err := r.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		r.drop(err)
		return Response{}, fmt.Errorf("%w: write %s: %v", ErrOracle, req.Type, err)
	}

	for {
		typ, frame, err := r.conn.Read(ctx)
		if err != nil {
			r.drop(err)
			return Response{}, fmt.Errorf("%w: read %s reply: %v", ErrOracle, req.Type, err)
		}
		if typ != websocket.MessageBinary {
			continue
		}
		resp, err := DecodeResponse(frame)
		if err != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrOracle, err)
		}
		if resp.ID != req.ID {
			// Late reply to a call that already gave up.
			r.opts.logger.Debug("discarding stale oracle frame", slog.Uint64("id", resp.ID))
			continue
		}
		if err := resp.Err(); err != nil {
			return Response{}, err
		}
		if resp.Type != want {
			return Response{}, fmt.Errorf("%w: got %q reply to %s, want %q", ErrOracle, resp.Type, req.Type, want)
		}
		return resp, nil
	}
}

func (r *Remote) ensureConn(ctx context.Context) error {
	if r.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, r.url, &websocket.DialOptions{HTTPHeader: r.opts.header})
	if err != nil {
		return fmt.Errorf("%w: websocket dial %s: %v", ErrOracle, r.url, err)
	}
	conn.SetReadLimit(r.opts.readLimit)
	r.conn = conn
	return nil
}

func (r *Remote) drop(cause error) {
	if r.conn == nil {
		return
	}
	r.opts.logger.Warn("oracle connection lost", slog.String("error", cause.Error()))
	_ = r.conn.CloseNow()
	r.conn = nil
}
