// Package testutil provides fixtures and golden-file comparison for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFiles creates files under root. Keys are slash-separated paths relative
// to root; parent directories are created as needed.
func WriteFiles(t testing.TB, root string, files map[string]string) {
	t.Helper()

	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", rel, err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", rel, err)
		}
	}
}

// GoldenPath returns testdata/<name>.golden relative to the test's package.
func GoldenPath(name string) string {
	return filepath.Join("testdata", name+".golden")
}
