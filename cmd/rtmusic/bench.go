package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-rtmusic/internal/bench"
	"github.com/example/go-rtmusic/internal/engine"
)

func newBenchCmd() *cobra.Command {
	var (
		texts        []string
		clips        []string
		seconds      float64
		runs         int
		concurrency  int
		format       string
		rtfThreshold float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark generation latency and realtime factor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}
			if len(texts) == 0 && len(clips) == 0 {
				texts = []string{"ambient electronic"}
			}

			req, err := buildGenerateRequest(texts, clips, seconds, os.ReadFile)
			if err != nil {
				return err
			}

			svc, err := engine.NewService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			results, err := bench.Run(cmd.Context(), svc, req, bench.Options{Runs: runs, Concurrency: concurrency})
			if err != nil {
				return err
			}
			stats := bench.Summarize(results)

			switch format {
			case "json":
				bench.FormatJSON(results, stats, os.Stdout)
			default:
				bench.FormatTable(results, stats, os.Stdout)
			}

			return bench.CheckRTFThreshold(stats.MeanRTF, rtfThreshold)
		},
	}

	cmd.Flags().StringArrayVar(&texts, "text", nil, "Text style as prompt[=weight] (repeatable)")
	cmd.Flags().StringArrayVar(&clips, "audio", nil, "Audio style as path.wav[=weight] (repeatable)")
	cmd.Flags().Float64Var(&seconds, "duration", 0, "Output length per run in seconds (0 uses generation.default_duration)")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of generation sessions")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Sessions in flight at once")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&rtfThreshold, "rtf-threshold", 0, "Exit non-zero if mean RTF exceeds this value (0 = disabled)")

	return cmd
}
