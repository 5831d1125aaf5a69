// Package providers extracts per-repository symbol graphs and feeds them to the
// cross-repository graph builder.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"xrepo/internal/errors"
	"xrepo/internal/graph"
	"xrepo/internal/repos"
	"xrepo/internal/slogutil"
)

// Provider produces the symbol graph of one repository.
type Provider interface {
	Name() string
	Extract(ctx context.Context, repo repos.Repository) (*graph.RepoGraph, error)
}

// Provider names accepted by New.
const (
	NameTreeSitter = "treesitter"
	NameSCIP       = "scip"
	NameFile       = "file"
)

// Options configures the built-in providers.
type Options struct {
	// Include and Exclude are doublestar patterns over repo-relative paths.
	Include []string
	Exclude []string

	// RespectGitignore skips files matched by the repository's .gitignore.
	RespectGitignore bool

	// MaxFileBytes skips larger source files. Zero means no limit.
	MaxFileBytes int64

	// IndexPath is the SCIP index or graph file, relative to the repository root.
	IndexPath string
}

// New returns the named provider.
func New(name string, opts Options, logger *slog.Logger) (Provider, error) {
	switch strings.ToLower(name) {
	case NameTreeSitter, "":
		ts, err := NewTreeSitter(opts, logger)
		if err != nil {
			return nil, err
		}
		return ts, nil
	case NameSCIP:
		return NewSCIP(opts, logger), nil
	case NameFile:
		return NewFile(opts, logger), nil
	default:
		return nil, errors.Newf(errors.ConfigurationError, "unknown provider %q", name).
			WithDetails(map[string]interface{}{"available": []string{NameTreeSitter, NameSCIP, NameFile}})
	}
}

// Result pairs a repository with its extracted graph.
type Result struct {
	Repo     repos.Repository
	Graph    *graph.RepoGraph
	Duration time.Duration
}

// ExtractAll runs extraction for every repository with at most parallelism
// concurrent extractions. Results are returned in repository order. The first
// failure cancels the remaining extractions.
func ExtractAll(ctx context.Context, p Provider, rs []repos.Repository, parallelism int, logger *slog.Logger) ([]Result, error) {
	if parallelism <= 0 {
		parallelism = 1
	}
	logger = slogutil.OrDiscard(logger)

	results := make([]Result, len(rs))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, repo := range rs {
		g.Go(func() error {
			start := time.Now()
			rg, err := p.Extract(gCtx, repo)
			if err != nil {
				return fmt.Errorf("extract %s with %s: %w", repo.ID, p.Name(), err)
			}
			rg.RepoID = repo.ID

			mu.Lock()
			results[i] = Result{Repo: repo, Graph: rg, Duration: time.Since(start)}
			mu.Unlock()

			logger.Debug("extracted repository",
				"repo", repo.ID,
				"provider", p.Name(),
				"nodes", len(rg.Nodes),
				"edges", len(rg.Edges),
				"duration", time.Since(start),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// builder accumulates one repository's nodes and edges, deduplicating both.
type builder struct {
	nodes    map[string]graph.Node
	edges    map[graph.EdgeSpec]struct{}
	byShort  map[string][]string
	revision string
}

func newBuilder() *builder {
	return &builder{
		nodes:   make(map[string]graph.Node),
		edges:   make(map[graph.EdgeSpec]struct{}),
		byShort: make(map[string][]string),
	}
}

func (b *builder) addNode(n graph.Node) {
	if _, ok := b.nodes[n.QualifiedName]; ok {
		return
	}
	b.nodes[n.QualifiedName] = n
	if n.Kind != graph.KindOther {
		short := n.ShortName()
		b.byShort[short] = append(b.byShort[short], n.QualifiedName)
	}
}

func (b *builder) addEdge(from, to string, kind graph.EdgeKind) {
	if from == to {
		return
	}
	b.edges[graph.EdgeSpec{From: from, To: to, Kind: kind}] = struct{}{}
}

// resolve returns the definition a short name refers to, preferring one in the
// given file, then the lexicographically first.
func (b *builder) resolve(short, path string) (string, bool) {
	cands := b.byShort[short]
	if len(cands) == 0 {
		return "", false
	}
	for _, c := range cands {
		if b.nodes[c].Location.Path == path {
			return c, true
		}
	}
	return slices.Min(cands), true
}

// placeholder records an unresolved reference as an "other" node so that
// targets living in other repositories remain visible to integration detection.
func (b *builder) placeholder(prefix, name string, arity int) string {
	qn := prefix + ":" + name
	if _, ok := b.nodes[qn]; !ok {
		b.nodes[qn] = graph.Node{QualifiedName: qn, Kind: graph.KindOther, Arity: arity}
	}
	return qn
}

func (b *builder) graph(repoID string) *graph.RepoGraph {
	rg := &graph.RepoGraph{RepoID: repoID, Revision: b.revision}
	for _, n := range b.nodes {
		rg.Nodes = append(rg.Nodes, n)
	}
	slices.SortFunc(rg.Nodes, func(a, c graph.Node) int { return strings.Compare(a.QualifiedName, c.QualifiedName) })
	for e := range b.edges {
		rg.Edges = append(rg.Edges, e)
	}
	slices.SortFunc(rg.Edges, func(a, c graph.EdgeSpec) int {
		if x := strings.Compare(a.From, c.From); x != 0 {
			return x
		}
		if x := strings.Compare(a.To, c.To); x != 0 {
			return x
		}
		return strings.Compare(string(a.Kind), string(c.Kind))
	})
	return rg
}
