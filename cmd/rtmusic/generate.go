package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-rtmusic/internal/audio"
	"github.com/example/go-rtmusic/internal/engine"
	"github.com/example/go-rtmusic/internal/session"
	"github.com/example/go-rtmusic/internal/style"
	"github.com/example/go-rtmusic/internal/text"
)

func newGenerateCmd() *cobra.Command {
	var texts []string
	var clips []string
	var seconds float64
	var out string
	var normalize bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate music from weighted text and audio styles",
		Example: `  rtmusic generate --text "warm analog synth=2" --text "lofi hip hop" --duration 30 --out mix.wav
  rtmusic generate --audio reference.wav=1.5 --text ambient --out - > mix.wav`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
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

			res, err := svc.Generate(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}

			samples := res.Samples
			if normalize {
				samples = audio.PeakNormalize(samples)
			}
			wav, err := audio.EncodeWAV(samples, res.SampleRate)
			if err != nil {
				return err
			}

			slog.Info("generation complete",
				slog.String("session_id", res.SessionID),
				slog.Int("chunks", res.Chunks),
				slog.Int("retries", res.Retries),
				slog.Int64("audio_ms", audio.DurationOf(len(samples), res.SampleRate).Milliseconds()),
				slog.Int64("duration_ms", res.Elapsed.Milliseconds()),
			)

			return writeOutput(out, wav, os.Stdout)
		},
	}

	cmd.Flags().StringArrayVar(&texts, "text", nil, "Text style as prompt[=weight] (repeatable)")
	cmd.Flags().StringArrayVar(&clips, "audio", nil, "Audio style as path.wav[=weight] (repeatable)")
	cmd.Flags().Float64Var(&seconds, "duration", 0, "Output length in seconds (0 uses generation.default_duration)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "Peak-normalize output audio")

	return cmd
}

// buildGenerateRequest turns repeated --text and --audio values into a
// session request. Text styles come first, in flag order.
func buildGenerateRequest(texts, clips []string, seconds float64, readFile func(string) ([]byte, error)) (session.Request, error) {
	if len(texts) == 0 && len(clips) == 0 {
		return session.Request{}, errors.New("provide at least one --text or --audio style")
	}
	d, err := engine.Seconds(seconds)
	if err != nil {
		return session.Request{}, err
	}

	req := session.Request{Duration: d, Styles: make([]style.Weighted, 0, len(texts)+len(clips))}
	for _, raw := range texts {
		prompt, w, err := text.ParseWeighted(raw)
		if err != nil {
			return session.Request{}, fmt.Errorf("--text: %w", err)
		}
		req.Styles = append(req.Styles, style.Weighted{Input: style.Text(prompt), Weight: w})
	}
	for _, raw := range clips {
		path, w, err := text.ParseWeighted(raw)
		if err != nil {
			return session.Request{}, fmt.Errorf("--audio: %w", err)
		}
		data, err := readFile(path)
		if err != nil {
			return session.Request{}, fmt.Errorf("read audio style: %w", err)
		}
		in, err := style.AudioFromWAV(data)
		if err != nil {
			return session.Request{}, fmt.Errorf("audio style %s: %w", path, err)
		}
		req.Styles = append(req.Styles, style.Weighted{Input: in, Weight: w})
	}
	return req, nil
}

func writeOutput(outPath string, data []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return fmt.Errorf("stdout writer is nil")
		}
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}
