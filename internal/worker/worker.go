// Package worker serves generation requests received over NATS and stores the
// resulting audio in a JetStream object store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"github.com/example/go-rtmusic/internal/audio"
	"github.com/example/go-rtmusic/internal/engine"
	"github.com/example/go-rtmusic/internal/lease"
	"github.com/example/go-rtmusic/internal/oracle"
	"github.com/example/go-rtmusic/internal/session"
	"github.com/example/go-rtmusic/internal/style"
)

// Generator runs one generation session.
type Generator interface {
	Generate(ctx context.Context, req session.Request) (session.Result, error)
}

// Store persists encoded results.
type Store interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// Reply is the JSON answer to a generation request. Error and Kind are set
// only on failure.
type Reply struct {
	SessionID       string  `json:"session_id,omitempty"`
	AudioKey        string  `json:"audio_key,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Chunks          int     `json:"chunks,omitempty"`
	Retries         int     `json:"retries"`
	Error           string  `json:"error,omitempty"`
	Kind            string  `json:"kind,omitempty"`
}

// Options configures a Worker.
type Options struct {
	Subject string
	Queue   string
	// Concurrency is the number of jobs processed at once. Messages beyond
	// it wait in the subscription until a slot frees.
	Concurrency    int
	MaxPromptBytes int
	// JobTimeout bounds one job. Zero means no limit.
	JobTimeout   time.Duration
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Worker consumes generation requests from a NATS queue group.
type Worker struct {
	nc    *nats.Conn
	gen   Generator
	store Store
	opts  Options
	log   *slog.Logger
}

// New returns a worker using nc. The worker drains and closes nc when Run
// returns.
func New(nc *nats.Conn, gen Generator, store Store, opts Options) (*Worker, error) {
	if nc == nil || gen == nil || store == nil {
		return nil, errors.New("worker: connection, generator and store are required")
	}
	if opts.Subject == "" {
		return nil, errors.New("worker: subject is required")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Worker{
		nc:    nc,
		gen:   gen,
		store: store,
		opts:  opts,
		log:   opts.Logger.With(slog.String("subject", opts.Subject)),
	}, nil
}

// Run subscribes and processes requests until ctx is cancelled, then drains:
// in-flight jobs finish and their replies are sent before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	closed := make(chan struct{})
	var once sync.Once
	w.nc.SetClosedHandler(func(*nats.Conn) { once.Do(func() { close(closed) }) })

	slots := semaphore.NewWeighted(int64(w.opts.Concurrency))
	var jobs sync.WaitGroup
	sub, err := w.nc.QueueSubscribe(w.opts.Subject, w.opts.Queue, func(msg *nats.Msg) {
		// Blocks delivery until a slot frees; the job outlives ctx so drained
		// messages still get a reply.
		_ = slots.Acquire(context.Background(), 1)
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			defer slots.Release(1)
			w.handle(msg)
		}()
	})
	if err != nil {
		w.nc.Close()
		return fmt.Errorf("subscribe to %s: %w", w.opts.Subject, err)
	}
	if err := w.nc.Flush(); err != nil {
		w.nc.Close()
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	w.log.Info("worker listening",
		slog.String("queue", w.opts.Queue),
		slog.Int("concurrency", w.opts.Concurrency),
	)

	select {
	case <-ctx.Done():
	case <-closed:
		return errors.New("nats connection closed")
	}

	w.log.Info("worker draining")
	deadline := time.Now().Add(w.opts.DrainTimeout)
	if err := w.drainJobs(sub, &jobs, deadline); err != nil {
		w.nc.Close()
		return err
	}

	// Jobs are done; the connection can flush replies and close.
	if err := w.nc.Drain(); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	select {
	case <-closed:
		return nil
	case <-time.After(time.Until(deadline)):
		w.nc.Close()
		return fmt.Errorf("drain did not finish within %s", w.opts.DrainTimeout)
	}
}

// drainJobs stops new deliveries, dispatches what the subscription already
// holds, and waits for every dispatched job. The connection stays open so
// jobs can upload and reply.
func (w *Worker) drainJobs(sub *nats.Subscription, jobs *sync.WaitGroup, deadline time.Time) error {
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain subscription: %w", err)
	}
	for sub.IsValid() {
		if time.Now().After(deadline) {
			return fmt.Errorf("drain did not finish within %s", w.opts.DrainTimeout)
		}
		time.Sleep(10 * time.Millisecond)
	}

	finished := make(chan struct{})
	go func() {
		jobs.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-time.After(time.Until(deadline)):
		return fmt.Errorf("in-flight jobs did not finish within %s", w.opts.DrainTimeout)
	}
}

func (w *Worker) handle(msg *nats.Msg) {
	ctx := context.Background()
	if w.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	reply := w.process(ctx, msg.Data)
	attrs := []any{
		slog.String("session_id", reply.SessionID),
		slog.Int64("took_ms", time.Since(start).Milliseconds()),
	}
	if reply.Error != "" {
		w.log.Warn("job failed", append(attrs, slog.String("kind", reply.Kind), slog.String("error", reply.Error))...)
	} else {
		w.log.Info("job complete", append(attrs, slog.String("audio_key", reply.AudioKey), slog.Int("chunks", reply.Chunks))...)
	}

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("marshal reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		w.log.Error("publish reply", slog.String("error", err.Error()))
	}
}

func (w *Worker) process(ctx context.Context, data []byte) Reply {
	var body engine.GenerateRequest
	if err := json.Unmarshal(data, &body); err != nil {
		return failure("", fmt.Errorf("%w: decode request: %v", session.ErrInvalidRequest, err))
	}
	req, err := body.Session(w.opts.MaxPromptBytes)
	if err != nil {
		return failure("", err)
	}

	res, err := w.gen.Generate(ctx, req)
	if err != nil {
		return failure(res.SessionID, err)
	}

	wav, err := audio.EncodeWAV(res.Samples, res.SampleRate)
	if err != nil {
		return failure(res.SessionID, fmt.Errorf("encode wav: %w", err))
	}
	key := uuid.NewString() + ".wav"
	if err := w.store.Upload(ctx, key, wav); err != nil {
		return failure(res.SessionID, err)
	}
	return Reply{
		SessionID:       res.SessionID,
		AudioKey:        key,
		DurationSeconds: float64(len(res.Samples)) / float64(res.SampleRate),
		SampleRate:      res.SampleRate,
		Chunks:          res.Chunks,
		Retries:         res.Retries,
	}
}

func failure(sessionID string, err error) Reply {
	return Reply{SessionID: sessionID, Error: err.Error(), Kind: ErrorKind(err)}
}

// ErrorKind classifies err for the reply's kind field.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, style.ErrEncoding):
		return "encoding"
	case errors.Is(err, style.ErrInvalidWeight):
		return "invalid_weight"
	case errors.Is(err, session.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, lease.ErrAdmissionTimeout):
		return "admission_timeout"
	case errors.Is(err, oracle.ErrResourceExhausted):
		return "resource_exhausted"
	case errors.Is(err, oracle.ErrOracle):
		return "oracle"
	case errors.Is(err, session.ErrCancelled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
