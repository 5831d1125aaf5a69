package providers

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"xrepo/internal/paths"
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
}

// fileFilter decides which repo-relative paths a provider reads.
type fileFilter struct {
	include   []string
	exclude   []string
	gitignore *ignore.GitIgnore
	maxBytes  int64
}

func newFileFilter(root string, opts Options) *fileFilter {
	f := &fileFilter{
		include:  opts.Include,
		exclude:  opts.Exclude,
		maxBytes: opts.MaxFileBytes,
	}
	if opts.RespectGitignore {
		if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
			f.gitignore = gi
		}
	}
	return f
}

// match reports whether a slash-separated repo-relative path is selected.
func (f *fileFilter) match(rel string) bool {
	if f.gitignore != nil && f.gitignore.MatchesPath(rel) {
		return false
	}
	for _, pattern := range f.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, pattern := range f.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// walk calls fn for every selected regular file under root, in lexical order,
// with its repo-relative slash path. Hidden and vendored directories are skipped.
func (f *fileFilter) walk(ctx context.Context, root string, accept func(rel string) bool, fn func(rel, abs string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = paths.NormalizePath(filepath.ToSlash(rel))
		if accept != nil && !accept(rel) {
			return nil
		}
		if !f.match(rel) {
			return nil
		}
		if f.maxBytes > 0 {
			if info, err := d.Info(); err == nil && info.Size() > f.maxBytes {
				return nil
			}
		}
		return fn(rel, path)
	})
}
