package testutil

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// updateGolden controls whether golden files should be updated.
// Use: go test ./... -run TestGolden -update
var updateGolden = flag.Bool("update", false, "update golden files")

// ShouldUpdate returns true if golden files should be updated.
func ShouldUpdate() bool {
	return *updateGolden
}

// CompareGolden compares got against the golden file at path, failing with a
// diff on mismatch. With -update the file is rewritten instead.
func CompareGolden(t testing.TB, path string, got []byte) {
	t.Helper()

	if *updateGolden {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Failed to create golden directory: %v", err)
		}
		if err := os.WriteFile(path, got, 0o644); err != nil {
			t.Fatalf("Failed to write golden file: %v", err)
		}
		t.Logf("Updated golden: %s", path)
		return
	}

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Fatalf("Golden file missing: %s\n\nGot:\n%s\n\nRun with -update to create it.", path, got)
		}
		t.Fatalf("Failed to read golden file: %v", err)
	}

	if !bytes.Equal(got, expected) {
		t.Fatalf("Golden mismatch for %s:\n%s\nRun with -update to refresh.", path, lineDiff(string(expected), string(got)))
	}
}

// lineDiff lists the differing lines with their line numbers.
func lineDiff(expected, got string) string {
	exp := strings.Split(expected, "\n")
	act := strings.Split(got, "\n")

	var buf strings.Builder
	for i := range max(len(exp), len(act)) {
		var e, g string
		if i < len(exp) {
			e = exp[i]
		}
		if i < len(act) {
			g = act[i]
		}
		if e == g {
			continue
		}
		fmt.Fprintf(&buf, "@@ line %d\n-%s\n+%s\n", i+1, e, g)
	}
	return buf.String()
}
