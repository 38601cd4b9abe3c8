// Package text prepares style prompts for embedding.
package text

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyText is returned when a prompt is empty or whitespace-only.
var ErrEmptyText = errors.New("text is empty")

// Normalize prepares a raw style prompt. Prompts are single-line phrases, so
// every run of whitespace (line breaks included) collapses to one space and
// the result is trimmed. Empty results are rejected.
func Normalize(s string) (string, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", ErrEmptyText
	}
	return s, nil
}

// Tokenize splits a prompt into lower-case word tokens, dropping punctuation.
func Tokenize(input string) []string {
	return strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}
