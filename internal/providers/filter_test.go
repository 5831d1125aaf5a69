package providers

import (
	"context"
	"slices"
	"testing"
)

func TestFileFilter_Match(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		path string
		want bool
	}{
		{"no patterns", Options{}, "pkg/a.go", true},
		{"include hit", Options{Include: []string{"src/**/*.py"}}, "src/billing/api.py", true},
		{"include miss", Options{Include: []string{"src/**/*.py"}}, "tests/test_api.py", false},
		{"exclude wins", Options{Include: []string{"**/*.go"}, Exclude: []string{"**/*_test.go"}}, "pkg/a_test.go", false},
		{"exclude only", Options{Exclude: []string{"gen/**"}}, "gen/x/y.go", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFileFilter(t.TempDir(), tt.opts)
			if got := f.match(tt.path); got != tt.want {
				t.Errorf("match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestFileFilter_Walk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "generated/\n*.pb.go\n")
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "api/api.pb.go", "package api\n")
	writeFile(t, root, "api/api.go", "package api\n")
	writeFile(t, root, "generated/x.go", "package generated\n")
	writeFile(t, root, "node_modules/dep/index.js", "")
	writeFile(t, root, ".hidden/secret.go", "")
	writeFile(t, root, "README.md", "# readme\n")

	collect := func(opts Options) []string {
		var got []string
		f := newFileFilter(root, opts)
		err := f.walk(context.Background(), root, func(rel string) bool {
			_, ok := LanguageFromPath(rel)
			return ok
		}, func(rel, abs string) error {
			got = append(got, rel)
			return nil
		})
		if err != nil {
			t.Fatalf("walk: %v", err)
		}
		return got
	}

	got := collect(Options{RespectGitignore: true})
	want := []string{"api/api.go", "main.go"}
	if !slices.Equal(got, want) {
		t.Errorf("with gitignore: got %v, want %v", got, want)
	}

	got = collect(Options{})
	want = []string{"api/api.go", "api/api.pb.go", "generated/x.go", "main.go"}
	if !slices.Equal(got, want) {
		t.Errorf("without gitignore: got %v, want %v", got, want)
	}
}

func TestFileFilter_WalkCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newFileFilter(root, Options{}).walk(ctx, root, nil, func(rel, abs string) error { return nil })
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestLanguageFromPath(t *testing.T) {
	tests := map[string]Language{
		"a.go": LangGo, "b.py": LangPython, "c.js": LangJavaScript,
		"d.ts": LangTypeScript, "e.tsx": LangTSX, "F.GO": LangGo,
	}
	for path, want := range tests {
		if got, ok := LanguageFromPath(path); !ok || got != want {
			t.Errorf("LanguageFromPath(%q) = %q, %v", path, got, ok)
		}
	}
	if _, ok := LanguageFromPath("README.md"); ok {
		t.Error("markdown should not be a source language")
	}
}
