package main

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/go-rtmusic/internal/style"
	"github.com/example/go-rtmusic/internal/testutil"
)

func fakeFiles(files map[string][]byte) func(string) ([]byte, error) {
	return func(name string) ([]byte, error) {
		data, ok := files[name]
		if !ok {
			return nil, fs.ErrNotExist
		}
		return data, nil
	}
}

// ---------------------------------------------------------------------------
// request building
// ---------------------------------------------------------------------------

func TestBuildGenerateRequest(t *testing.T) {
	files := fakeFiles(map[string][]byte{"ref.wav": testutil.SineWAV(t, 16000, 2*time.Second)})

	req, err := buildGenerateRequest([]string{"warm synth=2", "lofi"}, []string{"ref.wav=0.5"}, 12.5, files)
	if err != nil {
		t.Fatalf("buildGenerateRequest: %v", err)
	}

	if req.Duration != 12500*time.Millisecond {
		t.Errorf("Duration = %v; want 12.5s", req.Duration)
	}

	if len(req.Styles) != 3 {
		t.Fatalf("len(Styles) = %d; want 3", len(req.Styles))
	}

	want := []struct {
		kind   style.Kind
		prompt string
		weight float64
	}{
		{style.KindText, "warm synth", 2},
		{style.KindText, "lofi", 1},
		{style.KindAudio, "", 0.5},
	}
	for i, w := range want {
		got := req.Styles[i]
		if got.Input.Kind() != w.kind || got.Input.Prompt() != w.prompt || got.Weight != w.weight {
			t.Errorf("style %d = (%v, %q, %g); want (%v, %q, %g)",
				i, got.Input.Kind(), got.Input.Prompt(), got.Weight, w.kind, w.prompt, w.weight)
		}
	}
}

func TestBuildGenerateRequest_Errors(t *testing.T) {
	files := fakeFiles(map[string][]byte{"junk.wav": []byte("nope")})

	tests := []struct {
		name    string
		texts   []string
		clips   []string
		seconds float64
		want    string
	}{
		{"no styles", nil, nil, 10, "at least one"},
		{"negative duration", []string{"jazz"}, nil, -1, "duration"},
		{"bad weight", []string{"jazz=loud"}, nil, 10, "--text"},
		{"missing clip", nil, []string{"missing.wav"}, 10, "read audio"},
		{"undecodable clip", nil, []string{"junk.wav"}, 10, "junk.wav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildGenerateRequest(tt.texts, tt.clips, tt.seconds, files)
			if err == nil {
				t.Fatal("expected error")
			}

			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestBuildGenerateRequest_UndecodableClipIsEncodingError(t *testing.T) {
	files := fakeFiles(map[string][]byte{"junk.wav": []byte("nope")})

	_, err := buildGenerateRequest(nil, []string{"junk.wav"}, 0, files)
	if !errors.Is(err, style.ErrEncoding) {
		t.Errorf("error = %v; want ErrEncoding", err)
	}
}

// ---------------------------------------------------------------------------
// output
// ---------------------------------------------------------------------------

func TestWriteOutput_Stdout(t *testing.T) {
	var buf bytes.Buffer
	if err := writeOutput("-", []byte("RIFF"), &buf); err != nil {
		t.Fatal(err)
	}

	if buf.String() != "RIFF" {
		t.Errorf("stdout = %q", buf.String())
	}

	if err := writeOutput("-", nil, nil); err == nil {
		t.Error("expected error for nil stdout")
	}
}

func TestWriteOutput_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	if err := writeOutput(path, []byte("RIFF"), nil); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil || string(got) != "RIFF" {
		t.Errorf("file = %q, %v", got, err)
	}
}

// ---------------------------------------------------------------------------
// end to end
// ---------------------------------------------------------------------------

func TestGenerateCmd_WritesWAV(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	dir := t.TempDir()
	clip := filepath.Join(dir, "ref.wav")
	if err := os.WriteFile(clip, testutil.SineWAV(t, 16000, 2*time.Second), 0o600); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "mix.wav")

	root := NewRootCmd()
	root.SetArgs([]string{
		"generate",
		"--oracle-dimension", "16",
		"--oracle-sample-rate", "8000",
		"--chunk-duration", "1s",
		"--context-length", "3s",
		"--min-duration", "1s",
		"--cache-enabled=false",
		"--log-level", "error",
		"--text", "dub techno=2",
		"--audio", clip,
		"--duration", "3",
		"--normalize",
		"--out", out,
	})

	if err := root.Execute(); err != nil {
		t.Fatalf("generate: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertValidWAV(t, data, 8000)
	testutil.AssertWAVDurationApprox(t, data, 8000, 2.99, 3.01)
}

func TestGenerateCmd_InvalidConfig(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	root := NewRootCmd()
	root.SetArgs([]string{"generate", "--accelerator-ceiling", "0", "--text", "jazz", "--out", filepath.Join(t.TempDir(), "x.wav")})

	if err := root.Execute(); err == nil {
		t.Fatal("expected error for accelerator ceiling 0")
	}
}

func TestBenchCmd_JSON(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	root := NewRootCmd()
	root.SetArgs([]string{
		"bench",
		"--oracle-dimension", "16",
		"--oracle-sample-rate", "8000",
		"--chunk-duration", "1s",
		"--context-length", "3s",
		"--min-duration", "1s",
		"--log-level", "error",
		"--duration", "2",
		"--runs", "2",
		"--format", "json",
	})

	if err := root.Execute(); err != nil {
		t.Fatalf("bench: %v", err)
	}
}

func TestBenchCmd_RejectsBadFlags(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	for _, args := range [][]string{
		{"bench", "--runs", "0"},
		{"bench", "--format", "xml"},
	} {
		root := NewRootCmd()
		root.SetArgs(args)
		if err := root.Execute(); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}
