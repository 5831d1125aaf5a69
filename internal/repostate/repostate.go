// Package repostate computes the provenance revision of a repository checkout.
package repostate

import (
	"encoding/hex"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"xrepo/internal/errors"
)

// EmptyHash is the hash of an empty diff or file list.
var EmptyHash = hashString("")

// RepoState is the state of a checkout at one point in time.
type RepoState struct {
	HeadCommit          string `json:"headCommit"`
	WorkingTreeDiffHash string `json:"workingTreeDiffHash"`
	UntrackedListHash   string `json:"untrackedListHash"`
	Dirty               bool   `json:"dirty"`
	ComputedAt          string `json:"computedAt"`
}

// Revision is the provenance revision recorded for the repository: the HEAD
// commit, suffixed with a short content hash when the tree is dirty.
func (s *RepoState) Revision() string {
	if !s.Dirty {
		return s.HeadCommit
	}
	composite := hashString(s.WorkingTreeDiffHash + ":" + s.UntrackedListHash)
	return s.HeadCommit + "+dirty." + composite[:12]
}

// Compute reads the repository state using git.
func Compute(repoRoot string) (*RepoState, error) {
	headCommit, err := git(repoRoot, "rev-parse", "HEAD")
	if err != nil {
		return nil, errors.New(errors.ProviderUnavailable, "failed to read HEAD commit", err).
			WithDetails(map[string]interface{}{"root": repoRoot})
	}

	workingDiff, err := git(repoRoot, "diff", "HEAD")
	if err != nil {
		return nil, errors.New(errors.ProviderUnavailable, "failed to read working tree diff", err)
	}
	untracked, err := git(repoRoot, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, errors.New(errors.ProviderUnavailable, "failed to list untracked files", err)
	}

	workingHash := hashString(workingDiff)
	untrackedHash := hashString(untracked)

	return &RepoState{
		HeadCommit:          headCommit,
		WorkingTreeDiffHash: workingHash,
		UntrackedListHash:   untrackedHash,
		Dirty:               workingHash != EmptyHash || untrackedHash != EmptyHash,
		ComputedAt:          time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// RevisionOf returns the provenance revision of repoRoot, or fallback when the
// directory is not a git checkout.
func RevisionOf(repoRoot, fallback string) string {
	state, err := Compute(repoRoot)
	if err != nil {
		return fallback
	}
	return state.Revision()
}

// IsGitRepository checks if the given path is inside a git checkout.
func IsGitRepository(repoRoot string) bool {
	_, err := git(repoRoot, "rev-parse", "--git-dir")
	return err == nil
}

func git(repoRoot string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = repoRoot

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(output)), nil
}

func hashString(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
