// Package repos manages the repositories of a workspace and resolves
// repo-prefixed paths against them.
package repos

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"xrepo/internal/errors"
)

// RepoState represents the current state of a registered repository.
type RepoState string

const (
	RepoStateValid   RepoState = "valid"   // Path exists and is a directory
	RepoStateMissing RepoState = "missing" // Path doesn't exist
)

// Repository is a registered codebase.
type Repository struct {
	// UID is the immutable identity; it survives renames of ID.
	UID string `toml:"uid" json:"uid"`

	// ID is the human-friendly name used as path prefix and graph namespace.
	ID string `toml:"id" json:"id"`

	// RootPath is absolute and cleaned.
	RootPath string `toml:"root" json:"root"`

	// Revision is the last processed provenance revision.
	Revision string `toml:"revision,omitempty" json:"revision,omitempty"`

	// Provider overrides the workspace default symbol provider.
	Provider string `toml:"provider,omitempty" json:"provider,omitempty"`

	Tags    []string  `toml:"tags,omitempty" json:"tags,omitempty"`
	AddedAt time.Time `toml:"added_at" json:"addedAt"`
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateName checks if a repo ID is valid.
func ValidateName(name string) error {
	if name == "" {
		return errors.New(errors.ConfigurationError, "repo name cannot be empty", nil)
	}
	if !namePattern.MatchString(name) {
		return errors.Newf(errors.ConfigurationError,
			"repo name %q must contain only letters, numbers, underscores, and hyphens", name)
	}
	return nil
}

// Registry is an owned set of repositories with one active repository.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	repos  map[string]Repository
	active string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{repos: make(map[string]Repository)}
}

// Add registers a repository rooted at an existing directory. The first
// repository added becomes active. Duplicate IDs and duplicate roots are
// ConfigurationErrors.
func (r *Registry) Add(id, root string, tags []string) (Repository, error) {
	if err := ValidateName(id); err != nil {
		return Repository{}, err
	}

	absPath, err := filepath.Abs(root)
	if err != nil {
		return Repository{}, fmt.Errorf("failed to resolve path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	info, err := os.Stat(absPath)
	if err != nil {
		return Repository{}, errors.Newf(errors.ConfigurationError, "path does not exist: %s", absPath)
	}
	if !info.IsDir() {
		return Repository{}, errors.Newf(errors.ConfigurationError, "path is not a directory: %s", absPath)
	}

	repo := Repository{
		UID:      uuid.New().String(),
		ID:       id,
		RootPath: absPath,
		Tags:     tags,
		AddedAt:  time.Now().UTC(),
	}
	if err := r.insert(repo); err != nil {
		return Repository{}, err
	}
	return repo, nil
}

// insert adds a fully formed repository, enforcing unique IDs and roots.
func (r *Registry) insert(repo Repository) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.repos[repo.ID]; exists {
		return errors.Newf(errors.ConfigurationError, "repo %q already exists", repo.ID)
	}
	for _, existing := range r.repos {
		if existing.RootPath == repo.RootPath {
			return errors.Newf(errors.ConfigurationError,
				"repository at path %q already exists (as %q)", repo.RootPath, existing.ID)
		}
	}
	if repo.UID == "" {
		repo.UID = uuid.New().String()
	}
	r.repos[repo.ID] = repo
	if r.active == "" {
		r.active = repo.ID
	}
	return nil
}

// Remove unregisters a repository. Removing the active repository clears it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.repos[id]; !exists {
		return notFound(id)
	}
	delete(r.repos, id)
	if r.active == id {
		r.active = ""
	}
	return nil
}

// Rename changes a repository's ID. The UID is unchanged.
func (r *Registry) Rename(oldID, newID string) error {
	if err := ValidateName(newID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	repo, exists := r.repos[oldID]
	if !exists {
		return notFound(oldID)
	}
	if _, exists := r.repos[newID]; exists {
		return errors.Newf(errors.ConfigurationError, "repo %q already exists", newID)
	}

	repo.ID = newID
	r.repos[newID] = repo
	delete(r.repos, oldID)
	if r.active == oldID {
		r.active = newID
	}
	return nil
}

// Get returns a repository by ID.
func (r *Registry) Get(id string) (Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	repo, exists := r.repos[id]
	if !exists {
		return Repository{}, notFound(id)
	}
	return repo, nil
}

// GetByUID returns a repository by its immutable UID.
func (r *Registry) GetByUID(uid string) (Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, repo := range r.repos {
		if repo.UID == uid {
			return repo, nil
		}
	}
	return Repository{}, errors.Newf(errors.NotFound, "no repository with uid %q", uid)
}

// Has reports whether a repository ID is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.repos[id]
	return ok
}

// List returns all repositories sorted by ID.
func (r *Registry) List() []Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Repository, 0, len(r.repos))
	for _, repo := range r.repos {
		entries = append(entries, repo)
	}
	slices.SortFunc(entries, func(a, b Repository) int { return strings.Compare(a.ID, b.ID) })
	return entries
}

// SetActive selects the active repository. An empty ID clears it.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		if _, exists := r.repos[id]; !exists {
			return notFound(id)
		}
	}
	r.active = id
	return nil
}

// Active returns the active repository ID, or "" when none is set.
func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetRevision records the last processed revision of a repository.
func (r *Registry) SetRevision(id, revision string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	repo, exists := r.repos[id]
	if !exists {
		return notFound(id)
	}
	repo.Revision = revision
	r.repos[id] = repo
	return nil
}

// ValidateState checks whether a repository root still exists.
func (r *Registry) ValidateState(id string) RepoState {
	repo, err := r.Get(id)
	if err != nil {
		return RepoStateMissing
	}
	info, err := os.Stat(repo.RootPath)
	if err != nil || !info.IsDir() {
		return RepoStateMissing
	}
	return RepoStateValid
}

// FindContaining returns the repository whose root contains path. When several
// match, the most specific (longest root) wins.
func (r *Registry) FindContaining(path string) (Repository, bool) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Repository{}, false
	}
	// Resolve symlinks for comparison (handles macOS /var -> /private/var)
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}

	var best Repository
	bestLen := -1
	for _, repo := range r.List() {
		root := repo.RootPath
		if resolved, err := filepath.EvalSymlinks(root); err == nil {
			root = resolved
		}
		rel, err := filepath.Rel(root, absPath)
		if err != nil {
			continue
		}
		inside := rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
		if inside && len(root) > bestLen {
			best, bestLen = repo, len(root)
		}
	}
	return best, bestLen >= 0
}

func notFound(id string) error {
	return errors.Newf(errors.NotFound, "repo %q not found", id)
}
