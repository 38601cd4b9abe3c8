package text

import (
	"fmt"
	"strconv"
	"strings"
)

// SplitList splits a comma-separated list, trimming items and dropping
// empty entries.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ParseWeights parses a comma-separated weight list. An empty list yields n
// weights of 1.0; otherwise the list must have exactly n entries.
func ParseWeights(s string, n int) ([]float64, error) {
	items := SplitList(s)
	if len(items) == 0 {
		out := make([]float64, n)
		for i := range out {
			out[i] = 1.0
		}
		return out, nil
	}
	if len(items) != n {
		return nil, fmt.Errorf("got %d weights for %d inputs", len(items), n)
	}

	out := make([]float64, n)
	for i, item := range items {
		w, err := strconv.ParseFloat(item, 64)
		if err != nil {
			return nil, fmt.Errorf("weight %d %q: %w", i+1, item, err)
		}
		out[i] = w
	}
	return out, nil
}

// ParseWeighted splits a "value=weight" pair. A missing weight defaults to
// 1.0. The last '=' separates the weight so values may contain '='.
func ParseWeighted(s string) (string, float64, error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndex(s, "=")
	if i < 0 {
		return s, 1.0, nil
	}
	value := strings.TrimSpace(s[:i])
	w, err := strconv.ParseFloat(strings.TrimSpace(s[i+1:]), 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid weight in %q: %w", s, err)
	}
	return value, w, nil
}
