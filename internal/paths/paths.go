// Package paths centralizes the workspace layout and repo-relative path handling.
package paths

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// WorkspaceDirName is the per-workspace state directory.
const WorkspaceDirName = ".xrepo"

// ManifestName is the workspace manifest listing the repositories.
const ManifestName = "xrepo.toml"

// WorkspaceDir returns <root>/.xrepo.
func WorkspaceDir(root string) string {
	return filepath.Join(root, WorkspaceDirName)
}

// ManifestPath returns <root>/.xrepo/xrepo.toml.
func ManifestPath(root string) string {
	return filepath.Join(WorkspaceDir(root), ManifestName)
}

// EnsureWorkspaceDir creates <root>/.xrepo if needed and returns it.
func EnsureWorkspaceDir(root string) (string, error) {
	dir := WorkspaceDir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// EnsureLogsDir creates <root>/.xrepo/logs if needed and returns it.
func EnsureLogsDir(root string) (string, error) {
	dir := filepath.Join(WorkspaceDir(root), "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// LogFile returns the CLI log file inside a logs directory.
func LogFile(logsDir string) string {
	return filepath.Join(logsDir, "xrepo.log")
}

// ResolveInWorkspace resolves a configured path: absolute paths are kept,
// relative ones are joined to the workspace root.
func ResolveInWorkspace(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// CanonicalizePath converts an absolute path to a repo-relative canonical path
// - Resolves symlinks to real paths
// - Makes path relative to repo root
// - Converts backslashes to forward slashes
func CanonicalizePath(absolutePath string, repoRoot string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		resolved = absolutePath
	}

	rootResolved, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		rootResolved = repoRoot
	}

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// IsWithinRepo checks if a path is within the repository root
func IsWithinRepo(path string, repoRoot string) bool {
	canonical, err := CanonicalizePath(path, repoRoot)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}

// RelWithinRepo reports whether the repo-relative path rel stays inside
// repoRoot. ".." segments are checked lexically; an existing file is also
// checked after resolving symlinks.
func RelWithinRepo(repoRoot, rel string) bool {
	clean := path.Clean(NormalizePath(rel))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return false
	}
	abs := JoinRepoPath(repoRoot, clean)
	if _, err := os.Lstat(abs); err != nil {
		return true
	}
	return IsWithinRepo(abs, repoRoot)
}

// NormalizePath converts backslashes to forward slashes and strips a leading "./".
func NormalizePath(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	return strings.TrimPrefix(p, "./")
}

// JoinRepoPath joins a repo root with a canonical path
func JoinRepoPath(repoRoot string, canonicalPath string) string {
	parts := strings.Split(NormalizePath(canonicalPath), "/")
	return filepath.Join(append([]string{repoRoot}, parts...)...)
}

// DatabaseName is the snapshot database inside the workspace directory.
const DatabaseName = "xrepo.db"

// DatabasePath returns <root>/.xrepo/xrepo.db.
func DatabasePath(root string) string {
	return filepath.Join(WorkspaceDir(root), DatabaseName)
}
