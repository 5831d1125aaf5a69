package repos

import (
	"os"
	"path/filepath"
	"testing"

	"xrepo/internal/errors"
)

func newTestRegistry(t *testing.T, ids ...string) *Registry {
	t.Helper()
	tmp := t.TempDir()
	reg := NewRegistry()
	for _, id := range ids {
		if _, err := reg.Add(id, mkRepoDir(t, tmp, id), nil); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}
	return reg
}

func TestResolvePath(t *testing.T) {
	reg := newTestRegistry(t, "billing", "orders")

	tests := []struct {
		name     string
		input    string
		wantRepo string
		wantPath string
		wantWarn bool
	}{
		{"no prefix", "README.md", "billing", "README.md", false},
		{"known prefix", "orders/src/api.go", "orders", "src/api.go", false},
		{"known prefix active repo", "billing/pkg/charge.go", "billing", "pkg/charge.go", false},
		{"unknown prefix keeps whole string", "src/main.go", "billing", "src/main.go", true},
		{"backslashes normalized", `orders\src\api.go`, "orders", "src/api.go", false},
		{"leading dot slash", "./orders/x.go", "orders", "x.go", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := reg.ResolvePath(tt.input)
			if err != nil {
				t.Fatalf("ResolvePath(%q): %v", tt.input, err)
			}
			if res.RepoID != tt.wantRepo || res.RelPath != tt.wantPath {
				t.Errorf("ResolvePath(%q) = (%s, %s), want (%s, %s)",
					tt.input, res.RepoID, res.RelPath, tt.wantRepo, tt.wantPath)
			}
			if (res.Warning != nil) != tt.wantWarn {
				t.Errorf("warning = %v, want %v", res.Warning, tt.wantWarn)
			}
		})
	}
}

func TestResolvePath_MisrouteWarning(t *testing.T) {
	reg := newTestRegistry(t, "billing")

	res, err := reg.ResolvePath("payments/ledger.go")
	if err != nil {
		t.Fatal(err)
	}
	w := res.Warning
	if w == nil {
		t.Fatal("expected warning")
	}
	if w.Prefix != "payments" || w.Active != "billing" || w.Path != "payments/ledger.go" {
		t.Errorf("unexpected warning %+v", w)
	}
	if w.String() == "" {
		t.Error("warning should render")
	}
}

func TestResolvePathIn_ExplicitActive(t *testing.T) {
	reg := newTestRegistry(t, "billing", "orders")

	res, err := reg.ResolvePathIn("main.go", "orders")
	if err != nil {
		t.Fatal(err)
	}
	if res.RepoID != "orders" {
		t.Errorf("expected orders, got %s", res.RepoID)
	}

	if _, err := reg.ResolvePathIn("main.go", "ghost"); !errors.Is(err, errors.NotFound) {
		t.Errorf("expected NotFound for unknown active, got %v", err)
	}
}

func TestResolvePath_NoActive(t *testing.T) {
	reg := newTestRegistry(t, "billing")
	if err := reg.SetActive(""); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.ResolvePath("main.go"); !errors.Is(err, errors.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	// A known prefix does not need an active repo.
	res, err := reg.ResolvePath("billing/main.go")
	if err != nil || res.RepoID != "billing" {
		t.Errorf("got %+v, %v", res, err)
	}
}

func TestResolveActive_Order(t *testing.T) {
	tmp := t.TempDir()
	reg := NewRegistry()
	aDir := mkRepoDir(t, tmp, "a")
	bDir := mkRepoDir(t, tmp, "b")
	cDir := mkRepoDir(t, tmp, "c")
	_, _ = reg.Add("a", aDir, nil)
	_, _ = reg.Add("b", bDir, nil)
	_, _ = reg.Add("c", cDir, nil)

	t.Setenv(EnvRepo, "")

	got := reg.ResolveActive("", tmp)
	if got.RepoID != "a" || got.Source != ResolvedFromManifest {
		t.Errorf("manifest fallback: got %+v", got)
	}

	got = reg.ResolveActive("", cDir)
	if got.RepoID != "c" || got.Source != ResolvedFromCWD {
		t.Errorf("cwd: got %+v", got)
	}

	got = reg.ResolveActive("b", cDir)
	if got.RepoID != "b" || got.Source != ResolvedFromFlag {
		t.Errorf("flag beats cwd: got %+v", got)
	}

	t.Setenv(EnvRepo, "c")
	got = reg.ResolveActive("b", aDir)
	if got.RepoID != "c" || got.Source != ResolvedFromEnv {
		t.Errorf("env beats flag: got %+v", got)
	}
	if got.State != RepoStateValid {
		t.Errorf("expected valid state, got %s", got.State)
	}

	t.Setenv(EnvRepo, "unknown")
	got = reg.ResolveActive("", aDir)
	if got.Source != ResolvedFromCWD {
		t.Errorf("unknown env repo should be skipped, got %+v", got)
	}
}

func TestResolveActive_None(t *testing.T) {
	t.Setenv(EnvRepo, "")
	reg := NewRegistry()
	got := reg.ResolveActive("", t.TempDir())
	if got.Source != ResolvedNone || got.RepoID != "" {
		t.Errorf("expected none, got %+v", got)
	}
}

func TestFindGitRoot(t *testing.T) {
	tmp := t.TempDir()
	root := mkRepoDir(t, tmp, "project")
	if err := os.Mkdir(filepath.Join(root, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	nested := mkRepoDir(t, root, filepath.Join("a", "b"))

	want, _ := filepath.EvalSymlinks(root)
	if got := FindGitRoot(nested); got != want {
		t.Errorf("FindGitRoot(nested) = %q, want %q", got, want)
	}
	if got := FindGitRoot(root); got != want {
		t.Errorf("FindGitRoot(root) = %q, want %q", got, want)
	}
}
