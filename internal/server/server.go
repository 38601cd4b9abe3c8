package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/example/go-rtmusic/internal/audio"
	"github.com/example/go-rtmusic/internal/config"
	"github.com/example/go-rtmusic/internal/engine"
	"github.com/example/go-rtmusic/internal/lease"
	"github.com/example/go-rtmusic/internal/oracle"
	"github.com/example/go-rtmusic/internal/session"
	"github.com/example/go-rtmusic/internal/style"
	"github.com/example/go-rtmusic/internal/text"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Engine runs generation sessions and single-style embeddings.
type Engine interface {
	Generate(ctx context.Context, req session.Request) (session.Result, error)
	Embed(ctx context.Context, in style.Input) (style.Embedding, error)
	Info() engine.Info
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxPromptBytes int
	maxUploadBytes int64
	requestTimeout time.Duration
	retryAfter     time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxPromptBytes: 1024,
		maxUploadBytes: 50 << 20,
		requestTimeout: 5 * time.Minute,
		retryAfter:     5 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxPromptBytes sets the maximum length of a single text prompt.
func WithMaxPromptBytes(n int) Option {
	return func(o *options) { o.maxPromptBytes = n }
}

// WithMaxUploadBytes caps request bodies, multipart uploads included.
func WithMaxUploadBytes(n int64) Option {
	return func(o *options) { o.maxUploadBytes = n }
}

// WithRequestTimeout sets the per-request generation deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithRetryAfter sets the Retry-After hint sent when no accelerator slot
// frees up in time.
func WithRetryAfter(d time.Duration) Option {
	return func(o *options) { o.retryAfter = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	eng  Engine
	opts options
	log  *slog.Logger
}

// NewHandler returns an http.Handler serving health, generation and
// embedding endpoints.
func NewHandler(eng Engine, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{eng: eng, opts: opts, log: opts.logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleHealth)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /generate", h.handleGenerateJSON)
	mux.HandleFunc("POST /generate/text", h.handleGenerateText)
	mux.HandleFunc("POST /generate/audio", h.handleGenerateAudio)
	mux.HandleFunc("POST /generate/blend", h.handleGenerateBlend)
	mux.HandleFunc("POST /embed/text", h.handleEmbedText)
	mux.HandleFunc("POST /embed/audio", h.handleEmbedAudio)
	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	ModelLoaded bool   `json:"model_loaded"`
	engine.Info
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	info := h.eng.Info()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Version:     buildVersion(),
		ModelLoaded: info.Model != "",
		Info:        info,
	})
}

// ---------------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------------

func (h *handler) handleGenerateJSON(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.maxUploadBytes)
	var body engine.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.badRequest(w, r, "invalid JSON: "+err.Error(), err)
		return
	}
	req, err := body.Session(h.opts.maxPromptBytes)
	if err != nil {
		h.fail(w, r, "decode styles", err)
		return
	}
	h.generate(w, r, req, "generated")
}

func (h *handler) handleGenerateText(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	prompt, ok := h.prompt(w, r, r.FormValue("prompt"))
	if !ok {
		return
	}
	d, ok := h.duration(w, r)
	if !ok {
		return
	}
	h.generate(w, r, session.Request{
		Styles:   []style.Weighted{{Input: style.Text(prompt), Weight: 1}},
		Duration: d,
	}, "text_"+prompt)
}

func (h *handler) handleGenerateAudio(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	clips, ok := h.audioFiles(w, r, "audio_file")
	if !ok {
		return
	}
	if len(clips) != 1 {
		h.badRequest(w, r, "exactly one audio_file is required", nil)
		return
	}
	d, ok := h.duration(w, r)
	if !ok {
		return
	}

	styles := []style.Weighted{{Input: clips[0].input, Weight: 1}}
	if raw := r.FormValue("prompt"); strings.TrimSpace(raw) != "" {
		prompt, ok := h.prompt(w, r, raw)
		if !ok {
			return
		}
		styles = append(styles, style.Weighted{Input: style.Text(prompt), Weight: 1})
	}
	h.generate(w, r, session.Request{Styles: styles, Duration: d}, "audio_styled")
}

func (h *handler) handleGenerateBlend(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	prompts := text.SplitList(r.FormValue("text_prompts"))
	textWeights, err := text.ParseWeights(r.FormValue("text_weights"), len(prompts))
	if err != nil {
		h.badRequest(w, r, "text prompts and weights: "+err.Error(), err)
		return
	}
	clips, ok := h.audioFiles(w, r, "audio_files")
	if !ok {
		return
	}
	audioWeights, err := text.ParseWeights(r.FormValue("audio_weights"), len(clips))
	if err != nil {
		h.badRequest(w, r, "audio files and weights: "+err.Error(), err)
		return
	}
	if len(prompts)+len(clips) == 0 {
		h.badRequest(w, r, "at least one text prompt or audio file is required", nil)
		return
	}
	d, ok := h.duration(w, r)
	if !ok {
		return
	}

	styles := make([]style.Weighted, 0, len(prompts)+len(clips))
	for i, p := range prompts {
		if _, ok := h.prompt(w, r, p); !ok {
			return
		}
		styles = append(styles, style.Weighted{Input: style.Text(p), Weight: textWeights[i]})
	}
	for i, c := range clips {
		styles = append(styles, style.Weighted{Input: c.input, Weight: audioWeights[i]})
	}
	h.generate(w, r, session.Request{Styles: styles, Duration: d}, "blended")
}

func (h *handler) generate(w http.ResponseWriter, r *http.Request, req session.Request, name string) {
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	res, err := h.eng.Generate(ctx, req)
	took := time.Since(start)
	if err != nil {
		h.fail(w, r, "generation failed", err,
			slog.String("session_id", res.SessionID),
			slog.Int("styles", len(req.Styles)),
			slog.Int64("duration_ms", took.Milliseconds()),
		)
		return
	}

	wav, err := audio.EncodeWAV(res.Samples, res.SampleRate)
	if err != nil {
		h.fail(w, r, "encode wav", err)
		return
	}

	h.log.InfoContext(r.Context(), "generation complete",
		slog.String("session_id", res.SessionID),
		slog.Int("styles", len(req.Styles)),
		slog.Int("chunks", res.Chunks),
		slog.Int("retries", res.Retries),
		slog.Int64("audio_ms", res.Elapsed.Milliseconds()),
		slog.Int64("duration_ms", took.Milliseconds()),
		slog.Int("wav_bytes", len(wav)),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": "rtmusic_" + fileSafe(name) + ".wav",
	}))
	w.Header().Set("X-Session-Id", res.SessionID)
	w.Header().Set("X-Chunks", strconv.Itoa(res.Chunks))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

// ---------------------------------------------------------------------------
// Embedding
// ---------------------------------------------------------------------------

type embedResponse struct {
	Prompt    string    `json:"prompt,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Embedding []float32 `json:"embedding"`
	Shape     []int     `json:"shape"`
}

func (h *handler) handleEmbedText(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	prompt, ok := h.prompt(w, r, r.FormValue("prompt"))
	if !ok {
		return
	}
	vec, err := h.eng.Embed(r.Context(), style.Text(prompt))
	if err != nil {
		h.fail(w, r, "embed text", err)
		return
	}
	writeJSON(w, http.StatusOK, embedResponse{Prompt: prompt, Embedding: vec, Shape: []int{vec.Dim()}})
}

func (h *handler) handleEmbedAudio(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	clips, ok := h.audioFiles(w, r, "audio_file")
	if !ok {
		return
	}
	if len(clips) != 1 {
		h.badRequest(w, r, "exactly one audio_file is required", nil)
		return
	}
	vec, err := h.eng.Embed(r.Context(), clips[0].input)
	if err != nil {
		h.fail(w, r, "embed audio", err)
		return
	}
	writeJSON(w, http.StatusOK, embedResponse{Filename: clips[0].name, Embedding: vec, Shape: []int{vec.Dim()}})
}

// ---------------------------------------------------------------------------
// Request parsing
// ---------------------------------------------------------------------------

func (h *handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if r.ContentLength > h.opts.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request exceeds maximum size of %d bytes", h.opts.maxUploadBytes))
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.maxUploadBytes)
	var err error
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "multipart/form-data" {
		err = r.ParseMultipartForm(32 << 20)
	} else {
		err = r.ParseForm()
	}
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request exceeds maximum size of %d bytes", h.opts.maxUploadBytes))
		return false
	}
	h.badRequest(w, r, "invalid form: "+err.Error(), err)
	return false
}

func (h *handler) prompt(w http.ResponseWriter, r *http.Request, raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		h.badRequest(w, r, "prompt is required", nil)
		return "", false
	}
	if len(raw) > h.opts.maxPromptBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("prompt exceeds maximum size of %d bytes", h.opts.maxPromptBytes))
		return "", false
	}
	return raw, true
}

// duration reads the optional "duration" form field in seconds. Absent means
// the service default.
func (h *handler) duration(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := strings.TrimSpace(r.FormValue("duration"))
	if raw == "" {
		return 0, true
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		h.badRequest(w, r, fmt.Sprintf("invalid duration %q", raw), err)
		return 0, false
	}
	d, err := engine.Seconds(secs)
	if err != nil {
		h.badRequest(w, r, err.Error(), err)
		return 0, false
	}
	return d, true
}

type clip struct {
	name  string
	input style.Input
}

func (h *handler) audioFiles(w http.ResponseWriter, r *http.Request, field string) ([]clip, bool) {
	if r.MultipartForm == nil {
		return nil, true
	}
	var clips []clip
	for _, fh := range r.MultipartForm.File[field] {
		f, err := fh.Open()
		if err != nil {
			h.badRequest(w, r, "read "+fh.Filename+": "+err.Error(), err)
			return nil, false
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			h.badRequest(w, r, "read "+fh.Filename+": "+err.Error(), err)
			return nil, false
		}
		in, err := style.AudioFromWAV(data)
		if err != nil {
			h.badRequest(w, r, fh.Filename+": "+err.Error(), err)
			return nil, false
		}
		clips = append(clips, clip{name: fh.Filename, input: in})
	}
	return clips, true
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// StatusFor maps a pipeline error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, style.ErrEncoding),
		errors.Is(err, style.ErrInvalidWeight),
		errors.Is(err, session.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, lease.ErrAdmissionTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, oracle.ErrResourceExhausted):
		return http.StatusInsufficientStorage
	case errors.Is(err, oracle.ErrOracle):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrCancelled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error, attrs ...slog.Attr) {
	status := StatusFor(err)
	attrs = append(attrs, slog.Int("status", status), slog.String("error", err.Error()))
	level := slog.LevelError
	if status < http.StatusInternalServerError || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout {
		level = slog.LevelWarn
	}
	h.log.LogAttrs(r.Context(), level, msg, attrs...)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(int((h.opts.retryAfter+time.Second-1)/time.Second)))
	}
	writeError(w, status, err.Error())
}

func (h *handler) badRequest(w http.ResponseWriter, r *http.Request, msg string, err error) {
	attrs := []any{slog.String("path", r.URL.Path)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	h.log.DebugContext(r.Context(), "bad request", attrs...)
	writeError(w, http.StatusBadRequest, msg)
}

func fileSafe(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, s)
	if len(s) > 30 {
		s = s[:30]
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server — wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	svc             *engine.Service
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New returns a server for cfg. A nil svc is built from cfg on Start and
// closed when Start returns.
func New(cfg config.Config, svc *engine.Service) *Server {
	return &Server{
		cfg:             cfg,
		svc:             svc,
		logger:          slog.Default(),
		shutdownTimeout: cfg.Server.ShutdownTimeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithLogger sets the logger for the server and a service it builds.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

func (s *Server) Start(ctx context.Context) error {
	svc := s.svc
	if svc == nil {
		var err error
		svc, err = engine.NewService(ctx, s.cfg, engine.WithLogger(s.logger))
		if err != nil {
			return fmt.Errorf("initialize generation service: %w", err)
		}
		defer func() { _ = svc.Close() }()
	}

	h := NewHandler(svc,
		WithMaxPromptBytes(s.cfg.Server.MaxPromptBytes),
		WithMaxUploadBytes(s.cfg.Server.MaxUploadBytes),
		WithRequestTimeout(s.cfg.Server.RequestTimeout),
		WithRetryAfter(s.cfg.Accelerator.AdmissionWait),
		WithLogger(s.logger),
	)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.logger.Info("http server listening", slog.String("addr", s.cfg.Server.ListenAddr))

	select {
	case <-ctx.Done():
		timeout := s.shutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
