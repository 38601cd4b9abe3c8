package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/example/go-rtmusic/internal/config"
	"github.com/example/go-rtmusic/internal/doctor"
	"github.com/example/go-rtmusic/internal/engine"
)

func newDoctorCmd() *cobra.Command {
	var clips []string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run configuration, backend and connectivity checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			return runDoctor(cmd.Context(), cfg, clips, os.Stdout, os.Stderr)
		},
	}

	cmd.Flags().StringArrayVar(&clips, "clip", nil, "Audio style clip to verify (repeatable)")

	return cmd
}

func runDoctor(ctx context.Context, cfg config.Config, clips []string, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if backend, err := config.NormalizeBackend(cfg.Oracle.Backend); err != nil {
		_, _ = fmt.Fprintf(stdout, "backend: %q (%v)\n", cfg.Oracle.Backend, err)
	} else {
		_, _ = fmt.Fprintf(stdout, "backend: %s\n", backend)
	}

	validateErr := cfg.Validate()
	dcfg := doctor.Config{
		Validate:   func() error { return validateErr },
		Oracle:     func() (string, error) { return probeOracle(ctx, cfg.Oracle) },
		SkipOracle: validateErr != nil,
		StyleClips: clips,
		MinClip:    cfg.Style.MinAudio,
		SkipNATS:   cfg.NATS.URL == "",
		NATS:       func() (string, error) { return probeNATS(cfg.NATS.URL) },
	}
	if cfg.Cache.Enabled {
		dcfg.CacheDir = cfg.Cache.Dir
	}

	result := doctor.Run(dcfg, stdout)
	if result.Failed() {
		for _, f := range result.Failures() {
			_, _ = fmt.Fprintf(stderr, "FAIL: %s\n", f)
		}

		return errors.New("doctor checks failed")
	}

	_, _ = fmt.Fprintln(stdout, "doctor checks passed")

	return nil
}

// probeOracle opens the configured backend, embeds a short prompt and
// describes the result.
func probeOracle(ctx context.Context, cfg config.OracleConfig) (string, error) {
	b, err := engine.NewBackend(ctx, cfg, slog.Default())
	if err != nil {
		return "", err
	}
	defer func() { _ = b.Close() }()

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	vec, err := b.EmbedText(probeCtx, "doctor probe")
	if err != nil {
		return "", fmt.Errorf("embed probe: %w", err)
	}
	if len(vec) != b.Dimension() {
		return "", fmt.Errorf("embed probe returned %d values, backend reports %d", len(vec), b.Dimension())
	}
	return fmt.Sprintf("%s (dim %d, %d Hz)", b.Name(), b.Dimension(), b.SampleRate()), nil
}

// probeNATS connects to url and reports whether JetStream is enabled.
func probeNATS(url string) (string, error) {
	nc, err := nats.Connect(url, nats.Timeout(5*time.Second), nats.Name("rtmusic-doctor"))
	if err != nil {
		return "", err
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return "", fmt.Errorf("jetstream: %w", err)
	}
	if _, err := js.AccountInfo(); err != nil {
		return "", fmt.Errorf("jetstream unavailable: %w", err)
	}
	return fmt.Sprintf("%s (jetstream)", nc.ConnectedUrl()), nil
}
