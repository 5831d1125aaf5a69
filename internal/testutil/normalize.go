package testutil

import (
	"encoding/json"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// DefaultVolatile lists the JSON fields that change between runs.
var DefaultVolatile = []string{
	"uid",
	"addedAt",
	"savedAt",
	"duration",
	"computationMs",
	"durationMs",
}

// Normalizer rewrites JSON output so it can be compared with a golden file.
type Normalizer struct {
	// Roots maps absolute directories to placeholders such as "$BILLING".
	Roots map[string]string
	// Volatile fields are dropped wherever they appear.
	Volatile []string
}

// NormalizeJSON decodes data, drops volatile fields, replaces root directories
// with their placeholders and re-encodes it indented with sorted keys and a
// trailing newline.
func (n Normalizer) NormalizeJSON(t testing.TB, data []byte) []byte {
	t.Helper()

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("Output is not JSON: %v\n%s", err, data)
	}

	out, err := json.MarshalIndent(n.normalize(v), "", "  ")
	if err != nil {
		t.Fatalf("Failed to encode normalized output: %v", err)
	}
	return append(out, '\n')
}

func (n Normalizer) normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if slices.Contains(n.Volatile, k) {
				continue
			}
			out[k] = n.normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = n.normalize(item)
		}
		return out
	case string:
		return n.normalizeString(val)
	default:
		return v
	}
}

// normalizeString replaces the longest matching root first so nested roots map
// to their own placeholder.
func (n Normalizer) normalizeString(s string) string {
	roots := make([]string, 0, len(n.Roots))
	for root := range n.Roots {
		roots = append(roots, root)
	}
	slices.SortFunc(roots, func(a, b string) int { return len(b) - len(a) })

	for _, root := range roots {
		if strings.HasPrefix(s, root) {
			return n.Roots[root] + filepath.ToSlash(strings.TrimPrefix(s, root))
		}
	}
	return s
}
