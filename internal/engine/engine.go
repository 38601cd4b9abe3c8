// Package engine assembles a generation service from configuration: the
// oracle backend, the embedding cache, the style adapter and combiner, the
// chunk generator, the lease pool and the session orchestrator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/go-rtmusic/internal/audio"
	"github.com/example/go-rtmusic/internal/cache"
	"github.com/example/go-rtmusic/internal/config"
	"github.com/example/go-rtmusic/internal/generator"
	"github.com/example/go-rtmusic/internal/lease"
	"github.com/example/go-rtmusic/internal/oracle"
	"github.com/example/go-rtmusic/internal/session"
	"github.com/example/go-rtmusic/internal/style"
)

type options struct {
	backend oracle.Backend
	logger  *slog.Logger
	hook    func(session.Event)
}

// Option configures NewService.
type Option func(*options)

// WithBackend injects an oracle backend instead of building one from the
// configuration. The service takes ownership and closes it on Close.
func WithBackend(b oracle.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithLogger sets the logger passed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStateHook observes every session state transition.
func WithStateHook(fn func(session.Event)) Option {
	return func(o *options) { o.hook = fn }
}

// Info describes the running service for health endpoints.
type Info struct {
	Backend       string `json:"backend"`
	Model         string `json:"model"`
	Dimension     int    `json:"dimension"`
	SampleRate    int    `json:"sample_rate"`
	Ceiling       int    `json:"accelerator_ceiling"`
	LeasesInUse   int    `json:"leases_in_use"`
	PeakLeases    int    `json:"peak_leases"`
	CacheEnabled  bool   `json:"cache_enabled"`
	CachedEntries int    `json:"cached_entries"`
}

// Service is the assembled generation pipeline. Safe for concurrent use.
type Service struct {
	cfg      config.Config
	backend  oracle.Backend
	cache    *cache.Embeddings
	adapter  *style.Adapter
	combiner *style.Combiner
	pool     *lease.Pool
	orch     *session.Orchestrator
	log      *slog.Logger
}

// NewService validates cfg and builds the pipeline it describes.
func NewService(ctx context.Context, cfg config.Config, optFns ...Option) (*Service, error) {
	opts := options{logger: slog.Default()}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	curve, err := audio.ParseCurve(cfg.Generation.CrossfadeCurve)
	if err != nil {
		return nil, err
	}

	backend := opts.backend
	if backend == nil {
		backend, err = NewBackend(ctx, cfg.Oracle, opts.logger)
		if err != nil {
			return nil, err
		}
	}

	s := &Service{cfg: cfg, backend: backend, log: opts.logger}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	adapterOpts := []style.AdapterOption{
		style.WithSampleRate(backend.SampleRate()),
		style.WithMinAudio(cfg.Style.MinAudio),
		style.WithLogger(opts.logger),
	}
	if cfg.Cache.Enabled {
		s.cache, err = cache.Open(cache.Options{
			Dir:      cfg.Cache.Dir,
			InMemory: cfg.Cache.InMemory,
			TTL:      cfg.Cache.TTL,
			Logger:   opts.logger,
		})
		if err != nil {
			return nil, err
		}
		adapterOpts = append(adapterOpts, style.WithCache(s.cache, backend.Name()))
	}
	s.adapter = style.NewAdapter(backend, adapterOpts...)
	s.combiner = style.NewCombiner(s.adapter,
		style.WithWorkers(cfg.Style.Workers),
		style.WithMaxWeight(cfg.Style.MaxWeight),
	)

	gen, err := generator.New(backend, cfg.Generation.ChunkDuration,
		generator.WithRetryPolicy(generator.RetryPolicy{
			MaxRetries: cfg.Generation.Retries,
			Backoff:    cfg.Generation.RetryBackoff,
		}),
		generator.WithCallTimeout(cfg.Generation.OracleTimeout),
		generator.WithLogger(opts.logger),
	)
	if err != nil {
		return nil, err
	}

	s.pool, err = lease.NewPool(cfg.Accelerator.Ceiling, cfg.Accelerator.AdmissionWait)
	if err != nil {
		return nil, err
	}

	orchOpts := []session.Option{session.WithLogger(opts.logger)}
	if opts.hook != nil {
		orchOpts = append(orchOpts, session.WithStateHook(opts.hook))
	}
	s.orch, err = session.New(session.Config{
		ChunkDuration:   cfg.Generation.ChunkDuration,
		ContextLength:   cfg.Generation.ContextLength,
		OverlapFraction: cfg.Generation.CrossfadeFrac,
		Curve:           curve,
		MinDuration:     cfg.Generation.MinDuration,
		MaxDuration:     cfg.Generation.MaxDuration,
	}, s.combiner, gen, s.pool, orchOpts...)
	if err != nil {
		return nil, err
	}

	opts.logger.Info("generation service ready",
		slog.String("model", backend.Name()),
		slog.Int("dimension", backend.Dimension()),
		slog.Int("sample_rate", backend.SampleRate()),
		slog.Int("accelerator_ceiling", cfg.Accelerator.Ceiling),
		slog.Bool("cache", s.cache != nil),
	)
	ok = true
	return s, nil
}

// NewBackend builds the oracle backend named by cfg.Backend.
func NewBackend(ctx context.Context, cfg config.OracleConfig, logger *slog.Logger) (oracle.Backend, error) {
	backend, err := config.NormalizeBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	switch backend {
	case config.BackendRemote:
		dialCtx := ctx
		if cfg.DialTimeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
			defer cancel()
		}
		remoteOpts := []oracle.RemoteOption{oracle.WithRemoteLogger(logger)}
		if cfg.APIKey != "" {
			remoteOpts = append(remoteOpts, oracle.WithHeader("Authorization", "Bearer "+cfg.APIKey))
		}
		r, err := oracle.DialRemote(dialCtx, cfg.URL, remoteOpts...)
		if err != nil {
			return nil, fmt.Errorf("connect oracle %s: %w", cfg.URL, err)
		}
		return r, nil
	default:
		var popts []oracle.ProceduralOption
		if cfg.Latency > 0 {
			popts = append(popts, oracle.WithLatency(cfg.Latency))
		}
		p, err := oracle.NewProcedural(cfg.Dimension, cfg.SampleRate, popts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Generate runs one session.
func (s *Service) Generate(ctx context.Context, req session.Request) (session.Result, error) {
	if req.Duration == 0 {
		req.Duration = s.cfg.Generation.DefaultDuration
	}
	return s.orch.Run(ctx, req)
}

// Embed returns the embedding of a single style input.
func (s *Service) Embed(ctx context.Context, in style.Input) (style.Embedding, error) {
	return s.adapter.Embed(ctx, in)
}

// Info reports the backend and the accelerator pool state.
func (s *Service) Info() Info {
	info := Info{
		Backend:     s.cfg.Oracle.Backend,
		Model:       s.backend.Name(),
		Dimension:   s.backend.Dimension(),
		SampleRate:  s.backend.SampleRate(),
		Ceiling:     s.pool.Ceiling(),
		LeasesInUse: s.pool.InUse(),
		PeakLeases:  s.pool.Peak(),
	}
	if s.cache != nil {
		info.CacheEnabled = true
		if n, err := s.cache.Len(); err == nil {
			info.CachedEntries = n
		}
	}
	return info
}

// Config returns the configuration the service was built from.
func (s *Service) Config() config.Config { return s.cfg }

// SampleRate is the rate of generated audio.
func (s *Service) SampleRate() int { return s.backend.SampleRate() }

// Close releases the cache and the oracle backend.
func (s *Service) Close() error {
	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
		s.cache = nil
	}
	if s.backend != nil {
		errs = append(errs, s.backend.Close())
	}
	return errors.Join(errs...)
}
