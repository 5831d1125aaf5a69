package repostate

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestHashString(t *testing.T) {
	if len(EmptyHash) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(EmptyHash))
	}
	if hashString("") != EmptyHash {
		t.Error("empty input should hash to EmptyHash")
	}
	if hashString("hello") == hashString("hello\n") {
		t.Error("different inputs should produce different hashes")
	}
	if hashString("hello") != hashString("hello") {
		t.Error("hashString not consistent for same input")
	}
}

func TestRevision(t *testing.T) {
	clean := &RepoState{HeadCommit: "abc123", WorkingTreeDiffHash: EmptyHash, UntrackedListHash: EmptyHash}
	if got := clean.Revision(); got != "abc123" {
		t.Errorf("clean revision = %q", got)
	}

	dirty := &RepoState{HeadCommit: "abc123", WorkingTreeDiffHash: hashString("diff"), UntrackedListHash: EmptyHash, Dirty: true}
	got := dirty.Revision()
	if !strings.HasPrefix(got, "abc123+dirty.") || len(got) != len("abc123+dirty.")+12 {
		t.Errorf("dirty revision = %q", got)
	}

	other := &RepoState{HeadCommit: "abc123", WorkingTreeDiffHash: hashString("other diff"), UntrackedListHash: EmptyHash, Dirty: true}
	if other.Revision() == got {
		t.Error("different dirty trees should yield different revisions")
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("init", "-q")
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-q", "-m", "init")
	return dir
}

func TestCompute(t *testing.T) {
	dir := initRepo(t)

	state, err := Compute(dir)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if len(state.HeadCommit) < 40 {
		t.Errorf("HeadCommit should be a full SHA, got %q", state.HeadCommit)
	}
	if state.Dirty {
		t.Error("fresh commit should be clean")
	}
	if state.Revision() != state.HeadCommit {
		t.Errorf("clean revision should equal HEAD, got %q", state.Revision())
	}

	if err := os.WriteFile(filepath.Join(dir, "new.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}
	state, err = Compute(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !state.Dirty {
		t.Error("untracked file should make the tree dirty")
	}
}

func TestRevisionOf_NotGit(t *testing.T) {
	dir := t.TempDir()
	if IsGitRepository(dir) {
		t.Skip("temp dir is inside a git checkout")
	}
	if got := RevisionOf(dir, "unversioned"); got != "unversioned" {
		t.Errorf("expected fallback, got %q", got)
	}
}
