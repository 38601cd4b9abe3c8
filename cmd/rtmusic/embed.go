package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/go-rtmusic/internal/engine"
	"github.com/example/go-rtmusic/internal/style"
)

type embedOutput struct {
	Prompt    string    `json:"prompt,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Embedding []float32 `json:"embedding"`
	Shape     []int     `json:"shape"`
}

func newEmbedCmd() *cobra.Command {
	var prompt string
	var clip string

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Print the style embedding of a text prompt or audio clip as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			in, out, err := embedInput(prompt, clip, os.ReadFile)
			if err != nil {
				return err
			}

			svc, err := engine.NewService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			emb, err := svc.Embed(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			out.Embedding = emb
			out.Shape = []int{emb.Dim()}

			return writeJSON(os.Stdout, out)
		},
	}

	cmd.Flags().StringVar(&prompt, "text", "", "Text prompt to embed")
	cmd.Flags().StringVar(&clip, "audio", "", "WAV file to embed")

	return cmd
}

func embedInput(prompt, clip string, readFile func(string) ([]byte, error)) (style.Input, embedOutput, error) {
	switch {
	case prompt != "" && clip != "":
		return style.Input{}, embedOutput{}, errors.New("--text and --audio are mutually exclusive")
	case prompt != "":
		return style.Text(prompt), embedOutput{Prompt: prompt}, nil
	case clip != "":
		data, err := readFile(clip)
		if err != nil {
			return style.Input{}, embedOutput{}, fmt.Errorf("read audio: %w", err)
		}
		in, err := style.AudioFromWAV(data)
		if err != nil {
			return style.Input{}, embedOutput{}, err
		}
		return in, embedOutput{Filename: filepath.Base(clip)}, nil
	default:
		return style.Input{}, embedOutput{}, errors.New("provide --text or --audio")
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
