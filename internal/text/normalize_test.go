package text

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{
			name:  "passthrough clean text",
			input: "Ambient synth",
			want:  "Ambient synth",
		},
		{
			name:  "trims leading whitespace",
			input: "  funk",
			want:  "funk",
		},
		{
			name:  "trims trailing whitespace",
			input: "funk  ",
			want:  "funk",
		},
		{
			name:  "trims leading and trailing whitespace",
			input: "  Ambient synth  ",
			want:  "Ambient synth",
		},
		{
			name:  "trims tabs and newlines from edges",
			input: "\t\n jazz \n\t",
			want:  "jazz",
		},
		{
			name:  "collapses line breaks into spaces",
			input: "deep house\r\nwith\rstrings\nand pads",
			want:  "deep house with strings and pads",
		},
		{
			name:    "rejects empty string",
			input:   "",
			wantErr: ErrEmptyText,
		},
		{
			name:    "rejects whitespace-only string",
			input:   "   \t\n  ",
			wantErr: ErrEmptyText,
		},
		{
			name:  "preserves unicode content",
			input: "  chanson française  ",
			want:  "chanson française",
		},
		{
			name:  "collapses internal whitespace",
			input: "  lo-fi \t  hip hop  ",
			want:  "lo-fi hip hop",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr != nil {
				if err == nil {
					t.Fatalf("expected error %v, got nil", tt.wantErr)
				}

				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Lo-fi, hip hop! 90s drums")
	want := []string{"lo-fi", "hip", "hop", "90s", "drums"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}
