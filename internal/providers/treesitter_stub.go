//go:build !cgo

package providers

import (
	"context"
	"log/slog"

	"xrepo/internal/errors"
	"xrepo/internal/graph"
	"xrepo/internal/repos"
)

// TreeSitterProvider is unavailable without cgo.
type TreeSitterProvider struct{}

// NewTreeSitter reports that tree-sitter parsing needs a cgo build.
func NewTreeSitter(opts Options, logger *slog.Logger) (*TreeSitterProvider, error) {
	return nil, errUnavailable()
}

// TreeSitterAvailable reports whether the tree-sitter provider can run.
func TreeSitterAvailable() bool { return false }

// Name implements Provider.
func (p *TreeSitterProvider) Name() string { return NameTreeSitter }

// Extract implements Provider.
func (p *TreeSitterProvider) Extract(ctx context.Context, repo repos.Repository) (*graph.RepoGraph, error) {
	return nil, errUnavailable()
}

// ExtractSource is unavailable without cgo.
func ExtractSource(ctx context.Context, repoID, rel string, source []byte, lang Language) (*graph.RepoGraph, error) {
	return nil, errUnavailable()
}

func errUnavailable() error {
	return errors.New(errors.ProviderUnavailable,
		"tree-sitter provider requires a cgo build; use the scip or file provider", nil)
}
