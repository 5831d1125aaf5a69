package cache

import (
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"xrepo/internal/errors"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNew_InvalidSize(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := New(n, nil); !errors.Is(err, errors.ConfigurationError) {
			t.Errorf("New(%d): expected ConfigurationError, got %v", n, err)
		}
	}
}

func TestRead_HitMissAndRevalidate(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, root, "pkg/a.go", "package pkg\n")

	c, err := New(4, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		data, err := c.Read("billing", root, "./pkg/a.go")
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if string(data) != "package pkg\n" {
			t.Errorf("content = %q", data)
		}
	}
	if st := c.Stats(); st.Hits != 1 || st.Misses != 1 || st.Entries != 1 {
		t.Errorf("stats = %+v", st)
	}

	// A changed file is re-read.
	if err := os.WriteFile(p, []byte("package pkg // changed\n"), 0644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(p, later, later); err != nil {
		t.Fatal(err)
	}
	data, err := c.Read("billing", root, "pkg/a.go")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "package pkg // changed\n" {
		t.Errorf("stale content returned: %q", data)
	}
	if st := c.Stats(); st.Evictions != 0 {
		t.Errorf("revalidation should not count as eviction: %+v", st)
	}
}

func TestRead_Errors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "dir/x.txt", "x")
	c, _ := New(2, nil)

	if _, err := c.Read("r", root, "missing.go"); !errors.Is(err, errors.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if _, err := c.Read("r", root, "dir"); !errors.Is(err, errors.ValidationError) {
		t.Errorf("expected ValidationError for directory, got %v", err)
	}
}

func TestEvictionOrderAndCallback(t *testing.T) {
	root := t.TempDir()
	for _, f := range []string{"a", "b", "c", "d"} {
		writeFile(t, root, f, f)
	}

	var evicted []Key
	c, _ := New(2, func(k Key) { evicted = append(evicted, k) })
	read := func(name string) {
		t.Helper()
		if _, err := c.Read("r", root, name); err != nil {
			t.Fatal(err)
		}
	}
	read("a")
	read("b")
	read("a") // a becomes most recent
	read("c") // evicts b
	read("d") // evicts a

	want := []Key{{Repo: "r", Path: "b"}, {Repo: "r", Path: "a"}}
	if !reflect.DeepEqual(evicted, want) {
		t.Errorf("evicted %v, want %v", evicted, want)
	}
	if st := c.Stats(); st.Evictions != 2 || st.Entries != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestInvalidate(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "a")
	writeFile(t, root, "b.go", "b")

	var evicted []Key
	c, _ := New(8, func(k Key) { evicted = append(evicted, k) })
	for _, repo := range []string{"one", "two"} {
		for _, f := range []string{"a.go", "b.go"} {
			if _, err := c.Read(repo, root, f); err != nil {
				t.Fatal(err)
			}
		}
	}

	c.Invalidate("one", "a.go")
	if c.Len() != 3 {
		t.Errorf("Len after Invalidate = %d", c.Len())
	}
	if n := c.InvalidateRepo("two"); n != 2 {
		t.Errorf("InvalidateRepo dropped %d, want 2", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len after InvalidateRepo = %d", c.Len())
	}
	if n := c.InvalidateRepo("missing"); n != 0 {
		t.Errorf("unknown repo dropped %d", n)
	}
	if len(evicted) != 0 {
		t.Errorf("explicit invalidation fired the eviction hook: %v", evicted)
	}
}

func TestConcurrentReads(t *testing.T) {
	root := t.TempDir()
	for _, f := range []string{"a", "b", "c"} {
		writeFile(t, root, f, f)
	}
	c, _ := New(2, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				name := []string{"a", "b", "c"}[(i+j)%3]
				data, err := c.Read("r", root, name)
				if err != nil || string(data) != name {
					t.Errorf("Read(%s) = %q, %v", name, data, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	if c.Len() > 2 {
		t.Errorf("cache exceeded its bound: %d", c.Len())
	}
}

func TestRead_RejectsPathsOutsideRoot(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "billing")
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, base, "secret.txt", "outside")

	c, err := New(4, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"../secret.txt", "sub/../../secret.txt"} {
		if _, err := c.Read("billing", root, p); !errors.Is(err, errors.ValidationError) {
			t.Errorf("Read(%q) = %v, want ValidationError", p, err)
		}
	}
	if c.Len() != 0 {
		t.Errorf("rejected reads were cached: %d entries", c.Len())
	}
}
