package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-rtmusic/internal/config"
	"github.com/example/go-rtmusic/internal/oracle"
)

func newOracleCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "Serve the procedural backend over the remote oracle protocol",
		Long: `Exposes the procedural backend on a websocket endpoint that the remote
backend (--backend remote --oracle-url ws://host/path) can dial. Useful for
exercising the remote code path without an inference server.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serveOracle(ctx, listen, cfg.Oracle, cfg.Server.ShutdownTimeout)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":9090", "Oracle websocket listen address")

	return cmd
}

func serveOracle(ctx context.Context, addr string, cfg config.OracleConfig, shutdownTimeout time.Duration) error {
	var opts []oracle.ProceduralOption
	if cfg.Latency > 0 {
		opts = append(opts, oracle.WithLatency(cfg.Latency))
	}
	backend, err := oracle.NewProcedural(cfg.Dimension, cfg.SampleRate, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           oracle.NewHandler(backend, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("oracle listening", slog.String("addr", addr), slog.String("model", backend.Name()))

	select {
	case <-ctx.Done():
		if shutdownTimeout <= 0 {
			shutdownTimeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("oracle shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("oracle listen: %w", err)
	}
}
