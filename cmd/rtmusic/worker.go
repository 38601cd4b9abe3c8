package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/example/go-rtmusic/internal/engine"
	"github.com/example/go-rtmusic/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve generation requests from a NATS queue group",
		Long: `Subscribes to nats.subject in queue group nats.queue. Each request is a JSON
generation request; the WAV result is stored in the JetStream object store
bucket nats.bucket and the reply carries its key.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if cfg.NATS.URL == "" {
				return errors.New("nats.url is required (--nats-url or RTMUSIC_NATS_URL)")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := engine.NewService(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			nc, err := nats.Connect(cfg.NATS.URL,
				nats.Name("rtmusic-worker"),
				nats.MaxReconnects(-1),
				nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
					if err != nil {
						slog.Warn("nats disconnected", slog.String("error", err.Error()))
					}
				}),
				nats.ReconnectHandler(func(c *nats.Conn) {
					slog.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
				}),
			)
			if err != nil {
				return fmt.Errorf("connect to nats: %w", err)
			}

			js, err := nc.JetStream()
			if err != nil {
				nc.Close()
				return fmt.Errorf("jetstream: %w", err)
			}
			store, err := worker.NewObjectStore(js, cfg.NATS.Bucket)
			if err != nil {
				nc.Close()
				return err
			}

			w, err := worker.New(nc, svc, store, worker.Options{
				Subject:        cfg.NATS.Subject,
				Queue:          cfg.NATS.Queue,
				Concurrency:    cfg.NATS.Concurrency,
				MaxPromptBytes: cfg.Server.MaxPromptBytes,
				JobTimeout:     cfg.Server.RequestTimeout,
				DrainTimeout:   cfg.Server.ShutdownTimeout,
			})
			if err != nil {
				nc.Close()
				return err
			}
			return w.Run(ctx)
		},
	}

	return cmd
}
