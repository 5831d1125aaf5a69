package repos

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"xrepo/internal/errors"
	"xrepo/internal/paths"
)

// EnvRepo selects the active repository when set.
const EnvRepo = "XREPO_REPO"

// MisrouteWarning reports a path whose prefix did not name a registered
// repository and was therefore resolved against the active repository.
type MisrouteWarning struct {
	Prefix string `json:"prefix"`
	Active string `json:"active"`
	Path   string `json:"path"`
}

func (w *MisrouteWarning) String() string {
	return fmt.Sprintf("unknown repo prefix %q: resolved %q inside active repo %q", w.Prefix, w.Path, w.Active)
}

// Resolution is the result of resolving a repo-prefixed path.
type Resolution struct {
	RepoID  string
	RelPath string
	Warning *MisrouteWarning
}

// ResolvePath splits "repo/relative/path" into a repository ID and a
// repo-relative path. A path with no slash resolves against the active
// repository. A prefix that names no registered repository also resolves
// against the active repository, with the whole string kept as the path and a
// warning attached.
func (r *Registry) ResolvePath(p string) (Resolution, error) {
	return r.ResolvePathIn(p, "")
}

// ResolvePathIn is ResolvePath with an explicit active repository. An empty
// active uses the registry's.
func (r *Registry) ResolvePathIn(p, active string) (Resolution, error) {
	if active == "" {
		active = r.Active()
	}
	p = paths.NormalizePath(p)

	prefix, rest, hasSlash := strings.Cut(p, "/")
	if hasSlash && r.Has(prefix) {
		return Resolution{RepoID: prefix, RelPath: rest}, nil
	}

	if active == "" {
		return Resolution{}, errors.Newf(errors.NotFound, "no active repository to resolve %q", p)
	}
	if !r.Has(active) {
		return Resolution{}, notFound(active)
	}

	res := Resolution{RepoID: active, RelPath: p}
	if hasSlash {
		res.Warning = &MisrouteWarning{Prefix: prefix, Active: active, Path: p}
	}
	return res, nil
}

// ResolutionSource indicates how the active repo was determined.
type ResolutionSource string

const (
	ResolvedFromEnv      ResolutionSource = "env"
	ResolvedFromFlag     ResolutionSource = "flag"
	ResolvedFromCWD      ResolutionSource = "cwd"
	ResolvedFromManifest ResolutionSource = "manifest"
	ResolvedNone         ResolutionSource = ""
)

// ResolvedRepo is the outcome of ResolveActive.
type ResolvedRepo struct {
	RepoID string
	Source ResolutionSource
	State  RepoState

	// DetectedGitRoot is set when cwd is inside a git checkout, registered or not.
	DetectedGitRoot string
}

// ResolveActive determines the active repository in order: the XREPO_REPO
// environment variable, flagValue, the registered repository containing cwd,
// then the manifest's active repository.
func (r *Registry) ResolveActive(flagValue, cwd string) ResolvedRepo {
	gitRoot := ""
	if cwd != "" {
		gitRoot = FindGitRoot(cwd)
	}

	if env := os.Getenv(EnvRepo); env != "" && r.Has(env) {
		return ResolvedRepo{RepoID: env, Source: ResolvedFromEnv, State: r.ValidateState(env), DetectedGitRoot: gitRoot}
	}
	if flagValue != "" && r.Has(flagValue) {
		return ResolvedRepo{RepoID: flagValue, Source: ResolvedFromFlag, State: r.ValidateState(flagValue), DetectedGitRoot: gitRoot}
	}
	if cwd != "" {
		if repo, ok := r.FindContaining(cwd); ok {
			return ResolvedRepo{RepoID: repo.ID, Source: ResolvedFromCWD, State: r.ValidateState(repo.ID), DetectedGitRoot: gitRoot}
		}
	}
	if active := r.Active(); active != "" {
		return ResolvedRepo{RepoID: active, Source: ResolvedFromManifest, State: r.ValidateState(active), DetectedGitRoot: gitRoot}
	}
	return ResolvedRepo{Source: ResolvedNone, DetectedGitRoot: gitRoot}
}

// FindGitRoot walks up from path to the directory containing .git.
// Returns "" when path is not inside a git checkout.
func FindGitRoot(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}

	for dir := absPath; ; {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
