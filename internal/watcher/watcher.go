// Package watcher notices when registered repositories move to a new git
// revision. It listens for writes under each checkout's .git directory with
// fsnotify and polls as a fallback; either way a repository is reported once
// its revision changed and stayed quiet for the debounce delay.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"xrepo/internal/errors"
	"xrepo/internal/repostate"
	"xrepo/internal/slogutil"
)

// Change reports a repository whose revision moved.
type Change struct {
	Repo        string
	OldRevision string
	NewRevision string
	DetectedAt  time.Time
}

// ChangeHandler is called for each change, one at a time, from Run's goroutine.
type ChangeHandler func(ctx context.Context, c Change)

// Config contains watcher configuration
type Config struct {
	Debounce     time.Duration
	PollInterval time.Duration
}

// DefaultConfig returns the default watcher configuration
func DefaultConfig() Config {
	return Config{
		Debounce:     2 * time.Second,
		PollInterval: 5 * time.Second,
	}
}

// gitFiles are the entries under .git whose writes can move the revision.
var gitFiles = []string{"HEAD", "ORIG_HEAD", "packed-refs", "index"}

// Watcher watches registered checkouts for new revisions.
type Watcher struct {
	cfg     Config
	logger  *slog.Logger
	handler ChangeHandler

	// revisionOf resolves a checkout's revision, "" when unknown.
	revisionOf func(root string) string

	mu       sync.Mutex
	repos    map[string]*repoWatch // by repo ID
	byDir    map[string]string     // watched directory -> repo ID
	fs       *fsnotify.Watcher
	changes  chan string
	debounce *debouncer
}

type repoWatch struct {
	id       string
	root     string
	gitDir   string
	revision string
}

// New creates a watcher. Call Run to start delivering changes.
func New(cfg Config, logger *slog.Logger, handler ChangeHandler) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	w := &Watcher{
		cfg:        cfg,
		logger:     slogutil.OrDiscard(logger),
		handler:    handler,
		revisionOf: func(root string) string { return repostate.RevisionOf(root, "") },
		repos:      make(map[string]*repoWatch),
		byDir:      make(map[string]string),
		changes:    make(chan string, 64),
	}
	w.debounce = newDebouncer(cfg.Debounce, func(id string) {
		select {
		case w.changes <- id:
		default:
			// Run is behind; the next poll picks the repository up again.
		}
	})

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("File notifications unavailable, polling only", "error", err)
	} else {
		w.fs = fs
	}
	return w
}

// Watch starts watching a repository checkout. The checkout must contain a
// .git directory.
func (w *Watcher) Watch(id, root string) error {
	gitDir := filepath.Join(root, ".git")
	if info, err := os.Stat(gitDir); err != nil || !info.IsDir() {
		return errors.Newf(errors.ValidationError, "repository %s at %s is not a git checkout", id, root)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.repos[id]; ok {
		return nil
	}
	rw := &repoWatch{id: id, root: root, gitDir: gitDir, revision: w.revisionOf(root)}
	w.repos[id] = rw

	if w.fs != nil {
		for _, dir := range []string{gitDir, filepath.Join(gitDir, "refs", "heads")} {
			if err := w.fs.Add(dir); err != nil {
				w.logger.Debug("Cannot watch directory, relying on polling", "dir", dir, "error", err)
				continue
			}
			w.byDir[dir] = id
		}
	}
	w.logger.Info("Watching repository", "repo", id, "revision", rw.revision)
	return nil
}

// Unwatch stops watching a repository. Unknown IDs are ignored.
func (w *Watcher) Unwatch(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.repos[id]; !ok {
		return
	}
	delete(w.repos, id)
	for dir, owner := range w.byDir {
		if owner == id {
			if w.fs != nil {
				_ = w.fs.Remove(dir)
			}
			delete(w.byDir, dir)
		}
	}
	w.debounce.Cancel(id)
	w.logger.Info("Stopped watching repository", "repo", id)
}

// Watched returns the watched repository IDs sorted.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.repos))
	for id := range w.repos {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Run delivers changes to the handler until ctx is done, then releases the
// file notifications. It must be called at most once.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()

	var fsEvents chan fsnotify.Event
	var fsErrors chan error
	if w.fs != nil {
		fsEvents, fsErrors = w.fs.Events, w.fs.Errors
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if id, ok := w.ownerOf(ev.Name); ok {
				w.debounce.Trigger(id)
			}

		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			w.logger.Warn("File notification error", "error", err)

		case <-ticker.C:
			for _, id := range w.Watched() {
				w.debounce.Trigger(id)
			}

		case id := <-w.changes:
			if c, ok := w.check(id); ok {
				w.logger.Info("Repository revision changed", "repo", c.Repo, "from", c.OldRevision, "to", c.NewRevision)
				if w.handler != nil {
					w.handler(ctx, c)
				}
			}
		}
	}
}

// ownerOf maps a notification path to its repository when the file can move
// the revision.
func (w *Watcher) ownerOf(path string) (string, bool) {
	dir, base := filepath.Dir(path), filepath.Base(path)
	w.mu.Lock()
	defer w.mu.Unlock()

	id, ok := w.byDir[dir]
	if !ok {
		return "", false
	}
	if filepath.Base(dir) == "heads" || slices.Contains(gitFiles, base) {
		return id, true
	}
	return "", false
}

// check re-reads a repository's revision and reports whether it changed.
func (w *Watcher) check(id string) (Change, bool) {
	w.mu.Lock()
	rw, ok := w.repos[id]
	var root, old string
	if ok {
		root, old = rw.root, rw.revision
	}
	w.mu.Unlock()
	if !ok {
		return Change{}, false
	}

	rev := w.revisionOf(root)
	if rev == "" || rev == old {
		return Change{}, false
	}

	w.mu.Lock()
	if rw, ok := w.repos[id]; ok {
		rw.revision = rev
	}
	w.mu.Unlock()
	return Change{Repo: id, OldRevision: old, NewRevision: rev, DetectedAt: time.Now()}, true
}

func (w *Watcher) close() {
	w.debounce.Stop()
	if w.fs != nil {
		if err := w.fs.Close(); err != nil {
			w.logger.Debug("Closing file notifications", "error", err)
		}
	}
}
