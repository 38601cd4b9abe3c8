package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel    string            `mapstructure:"log_level"`
	Server      ServerConfig      `mapstructure:"server"`
	Generation  GenerationConfig  `mapstructure:"generation"`
	Accelerator AcceleratorConfig `mapstructure:"accelerator"`
	Style       StyleConfig       `mapstructure:"style"`
	Oracle      OracleConfig      `mapstructure:"oracle"`
	Cache       CacheConfig       `mapstructure:"cache"`
	NATS        NATSConfig        `mapstructure:"nats"`
}

type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	MaxPromptBytes  int           `mapstructure:"max_prompt_bytes"`
}

type GenerationConfig struct {
	ChunkDuration   time.Duration `mapstructure:"chunk_duration"`
	ContextLength   time.Duration `mapstructure:"context_length"`
	CrossfadeFrac   float64       `mapstructure:"crossfade_fraction"`
	CrossfadeCurve  string        `mapstructure:"crossfade_curve"`
	MinDuration     time.Duration `mapstructure:"min_duration"`
	MaxDuration     time.Duration `mapstructure:"max_duration"`
	DefaultDuration time.Duration `mapstructure:"default_duration"`
	Retries         int           `mapstructure:"retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	OracleTimeout   time.Duration `mapstructure:"oracle_timeout"`
}

type AcceleratorConfig struct {
	Ceiling       int           `mapstructure:"ceiling"`
	AdmissionWait time.Duration `mapstructure:"admission_wait"`
}

type StyleConfig struct {
	MaxWeight float64       `mapstructure:"max_weight"`
	MinAudio  time.Duration `mapstructure:"min_audio"`
	Workers   int           `mapstructure:"workers"`
}

type OracleConfig struct {
	Backend     string        `mapstructure:"backend"`
	URL         string        `mapstructure:"url"`
	APIKey      string        `mapstructure:"api_key"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Dimension   int           `mapstructure:"dimension"`
	SampleRate  int           `mapstructure:"sample_rate"`
	Latency     time.Duration `mapstructure:"latency"`
}

type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Dir      string        `mapstructure:"dir"`
	InMemory bool          `mapstructure:"in_memory"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type NATSConfig struct {
	URL         string `mapstructure:"url"`
	Subject     string `mapstructure:"subject"`
	Queue       string `mapstructure:"queue"`
	Bucket      string `mapstructure:"bucket"`
	Concurrency int    `mapstructure:"concurrency"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			ListenAddr:      ":8080",
			RequestTimeout:  5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  50 << 20,
			MaxPromptBytes:  1024,
		},
		Generation: GenerationConfig{
			ChunkDuration:   2 * time.Second,
			ContextLength:   10 * time.Second,
			CrossfadeFrac:   0.15,
			CrossfadeCurve:  "equal-power",
			MinDuration:     2 * time.Second,
			MaxDuration:     120 * time.Second,
			DefaultDuration: 10 * time.Second,
			Retries:         1,
			RetryBackoff:    0,
			OracleTimeout:   30 * time.Second,
		},
		Accelerator: AcceleratorConfig{
			Ceiling:       1,
			AdmissionWait: 60 * time.Second,
		},
		Style: StyleConfig{
			MaxWeight: 10,
			MinAudio:  time.Second,
			Workers:   4,
		},
		Oracle: OracleConfig{
			Backend:     BackendProcedural,
			URL:         "",
			DialTimeout: 10 * time.Second,
			Dimension:   768,
			SampleRate:  48000,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Dir:      "",
			InMemory: true,
			TTL:      7 * 24 * time.Hour,
		},
		NATS: NATSConfig{
			URL:         "",
			Subject:     "rtmusic.generate",
			Queue:       "rtmusic-workers",
			Bucket:      "rtmusic-audio",
			Concurrency: 1,
		},
	}
}

// flagKeys maps every flag registered by RegisterFlags to its config key.
var flagKeys = map[string]string{
	"log-level":                  "log_level",
	"server-listen-addr":         "server.listen_addr",
	"server-request-timeout":     "server.request_timeout",
	"server-shutdown-timeout":    "server.shutdown_timeout",
	"server-max-upload-bytes":    "server.max_upload_bytes",
	"server-max-prompt-bytes":    "server.max_prompt_bytes",
	"chunk-duration":             "generation.chunk_duration",
	"context-length":             "generation.context_length",
	"crossfade-fraction":         "generation.crossfade_fraction",
	"crossfade-curve":            "generation.crossfade_curve",
	"min-duration":               "generation.min_duration",
	"max-duration":               "generation.max_duration",
	"retries":                    "generation.retries",
	"retry-backoff":              "generation.retry_backoff",
	"oracle-timeout":             "generation.oracle_timeout",
	"accelerator-ceiling":        "accelerator.ceiling",
	"accelerator-admission-wait": "accelerator.admission_wait",
	"style-max-weight":           "style.max_weight",
	"style-min-audio":            "style.min_audio",
	"style-workers":              "style.workers",
	"backend":                    "oracle.backend",
	"oracle-url":                 "oracle.url",
	"oracle-api-key":             "oracle.api_key",
	"oracle-dimension":           "oracle.dimension",
	"oracle-sample-rate":         "oracle.sample_rate",
	"oracle-latency":             "oracle.latency",
	"cache-enabled":              "cache.enabled",
	"cache-dir":                  "cache.dir",
	"cache-ttl":                  "cache.ttl",
	"nats-url":                   "nats.url",
	"nats-subject":               "nats.subject",
	"nats-queue":                 "nats.queue",
	"nats-bucket":                "nats.bucket",
	"nats-concurrency":           "nats.concurrency",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level: debug|info|warn|error")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Duration("server-request-timeout", defaults.Server.RequestTimeout, "Per-request generation timeout")
	fs.Duration("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout")
	fs.Int64("server-max-upload-bytes", defaults.Server.MaxUploadBytes, "Maximum multipart upload size")
	fs.Int("server-max-prompt-bytes", defaults.Server.MaxPromptBytes, "Maximum text prompt length in bytes")
	fs.Duration("chunk-duration", defaults.Generation.ChunkDuration, "Duration of one generated chunk")
	fs.Duration("context-length", defaults.Generation.ContextLength, "Rolling context window length")
	fs.Float64("crossfade-fraction", defaults.Generation.CrossfadeFrac, "Crossfade overlap as a fraction of chunk duration")
	fs.String("crossfade-curve", defaults.Generation.CrossfadeCurve, "Crossfade curve: equal-power|linear")
	fs.Duration("min-duration", defaults.Generation.MinDuration, "Minimum requested duration")
	fs.Duration("max-duration", defaults.Generation.MaxDuration, "Maximum requested duration")
	fs.Int("retries", defaults.Generation.Retries, "Retries per chunk after a transient oracle failure")
	fs.Duration("retry-backoff", defaults.Generation.RetryBackoff, "Delay before retrying a chunk")
	fs.Duration("oracle-timeout", defaults.Generation.OracleTimeout, "Timeout for one oracle generate call")
	fs.Int("accelerator-ceiling", defaults.Accelerator.Ceiling, "Concurrent generation sessions on the accelerator")
	fs.Duration("accelerator-admission-wait", defaults.Accelerator.AdmissionWait, "Maximum wait for an accelerator slot")
	fs.Float64("style-max-weight", defaults.Style.MaxWeight, "Upper bound for a single style weight (0 disables)")
	fs.Duration("style-min-audio", defaults.Style.MinAudio, "Shortest accepted audio style clip")
	fs.Int("style-workers", defaults.Style.Workers, "Parallel style embeddings per request")
	fs.String("backend", defaults.Oracle.Backend, "Oracle backend: procedural|remote")
	fs.String("oracle-url", defaults.Oracle.URL, "Websocket URL of the remote inference server")
	fs.String("oracle-api-key", defaults.Oracle.APIKey, "API key sent to the remote inference server")
	fs.Int("oracle-dimension", defaults.Oracle.Dimension, "Embedding dimension of the procedural backend")
	fs.Int("oracle-sample-rate", defaults.Oracle.SampleRate, "Sample rate of the procedural backend")
	fs.Duration("oracle-latency", defaults.Oracle.Latency, "Artificial per-chunk latency of the procedural backend")
	fs.Bool("cache-enabled", defaults.Cache.Enabled, "Cache text embeddings")
	fs.String("cache-dir", defaults.Cache.Dir, "Embedding cache directory (empty keeps the cache in memory)")
	fs.Duration("cache-ttl", defaults.Cache.TTL, "Embedding cache entry lifetime (0 keeps forever)")
	fs.String("nats-url", defaults.NATS.URL, "NATS server URL for the worker")
	fs.String("nats-subject", defaults.NATS.Subject, "NATS subject for generation requests")
	fs.String("nats-queue", defaults.NATS.Queue, "NATS queue group")
	fs.String("nats-bucket", defaults.NATS.Bucket, "JetStream object store bucket for results")
	fs.Int("nats-concurrency", defaults.NATS.Concurrency, "Concurrent jobs per worker")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("RTMUSIC")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("oracle.api_key", "RTMUSIC_ORACLE_API_KEY", "MAGENTA_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind api key env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("rtmusic")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.Cache.InMemory = cfg.Cache.Dir == ""
	return cfg, nil
}

// Validate reports every inconsistency in c.
func (c Config) Validate() error {
	var errs []error
	g := c.Generation
	if g.ChunkDuration <= 0 {
		errs = append(errs, fmt.Errorf("generation.chunk_duration must be positive, got %s", g.ChunkDuration))
	}
	if g.ContextLength < g.ChunkDuration {
		errs = append(errs, fmt.Errorf("generation.context_length %s is shorter than one chunk", g.ContextLength))
	}
	if g.CrossfadeFrac < 0 || g.CrossfadeFrac >= 0.5 {
		errs = append(errs, fmt.Errorf("generation.crossfade_fraction must be in [0, 0.5), got %g", g.CrossfadeFrac))
	}
	if g.MinDuration <= 0 || g.MaxDuration < g.MinDuration {
		errs = append(errs, fmt.Errorf("generation duration bounds [%s, %s] are invalid", g.MinDuration, g.MaxDuration))
	}
	if g.Retries < 0 {
		errs = append(errs, fmt.Errorf("generation.retries must be >= 0, got %d", g.Retries))
	}
	if c.Accelerator.Ceiling < 1 {
		errs = append(errs, fmt.Errorf("accelerator.ceiling must be >= 1, got %d", c.Accelerator.Ceiling))
	}
	if c.Accelerator.AdmissionWait < 0 {
		errs = append(errs, fmt.Errorf("accelerator.admission_wait must be >= 0, got %s", c.Accelerator.AdmissionWait))
	}
	if c.Style.MaxWeight < 0 {
		errs = append(errs, fmt.Errorf("style.max_weight must be >= 0, got %g", c.Style.MaxWeight))
	}

	backend, err := NormalizeBackend(c.Oracle.Backend)
	if err != nil {
		errs = append(errs, err)
	}
	switch backend {
	case BackendRemote:
		if c.Oracle.URL == "" {
			errs = append(errs, errors.New("oracle.url is required for the remote backend"))
		}
	case BackendProcedural:
		if c.Oracle.Dimension < 4 {
			errs = append(errs, fmt.Errorf("oracle.dimension must be >= 4, got %d", c.Oracle.Dimension))
		}
		if c.Oracle.SampleRate <= 0 {
			errs = append(errs, fmt.Errorf("oracle.sample_rate must be positive, got %d", c.Oracle.SampleRate))
		}
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.max_upload_bytes", c.Server.MaxUploadBytes)
	v.SetDefault("server.max_prompt_bytes", c.Server.MaxPromptBytes)
	v.SetDefault("generation.chunk_duration", c.Generation.ChunkDuration)
	v.SetDefault("generation.context_length", c.Generation.ContextLength)
	v.SetDefault("generation.crossfade_fraction", c.Generation.CrossfadeFrac)
	v.SetDefault("generation.crossfade_curve", c.Generation.CrossfadeCurve)
	v.SetDefault("generation.min_duration", c.Generation.MinDuration)
	v.SetDefault("generation.max_duration", c.Generation.MaxDuration)
	v.SetDefault("generation.default_duration", c.Generation.DefaultDuration)
	v.SetDefault("generation.retries", c.Generation.Retries)
	v.SetDefault("generation.retry_backoff", c.Generation.RetryBackoff)
	v.SetDefault("generation.oracle_timeout", c.Generation.OracleTimeout)
	v.SetDefault("accelerator.ceiling", c.Accelerator.Ceiling)
	v.SetDefault("accelerator.admission_wait", c.Accelerator.AdmissionWait)
	v.SetDefault("style.max_weight", c.Style.MaxWeight)
	v.SetDefault("style.min_audio", c.Style.MinAudio)
	v.SetDefault("style.workers", c.Style.Workers)
	v.SetDefault("oracle.backend", c.Oracle.Backend)
	v.SetDefault("oracle.url", c.Oracle.URL)
	v.SetDefault("oracle.api_key", c.Oracle.APIKey)
	v.SetDefault("oracle.dial_timeout", c.Oracle.DialTimeout)
	v.SetDefault("oracle.dimension", c.Oracle.Dimension)
	v.SetDefault("oracle.sample_rate", c.Oracle.SampleRate)
	v.SetDefault("oracle.latency", c.Oracle.Latency)
	v.SetDefault("cache.enabled", c.Cache.Enabled)
	v.SetDefault("cache.dir", c.Cache.Dir)
	v.SetDefault("cache.in_memory", c.Cache.InMemory)
	v.SetDefault("cache.ttl", c.Cache.TTL)
	v.SetDefault("nats.url", c.NATS.URL)
	v.SetDefault("nats.subject", c.NATS.Subject)
	v.SetDefault("nats.queue", c.NATS.Queue)
	v.SetDefault("nats.bucket", c.NATS.Bucket)
	v.SetDefault("nats.concurrency", c.NATS.Concurrency)
}

// bindFlags binds registered flags to their nested keys so that a flag only
// overrides the config file when it was set explicitly.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}
