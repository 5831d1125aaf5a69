package providers

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"xrepo/internal/errors"
	"xrepo/internal/graph"
	"xrepo/internal/repos"
	"xrepo/internal/repostate"
	"xrepo/internal/slogutil"
)

// DefaultGraphFiles are probed, in order, when no graph file is configured.
var DefaultGraphFiles = []string{"xrepo-graph.json", "xrepo-graph.yaml", "xrepo-graph.yml"}

// GraphFile is the provider input document:
//
//	{"nodes": [{"name", "kind", "location"}], "edges": [{"from", "to", "kind"}]}
type GraphFile struct {
	Revision string     `json:"revision,omitempty" yaml:"revision,omitempty"`
	Nodes    []FileNode `json:"nodes" yaml:"nodes"`
	Edges    []FileEdge `json:"edges" yaml:"edges"`
}

// FileNode is a node entry. Arity defaults to unknown and Exported to true.
type FileNode struct {
	Name     string         `json:"name" yaml:"name"`
	Kind     string         `json:"kind" yaml:"kind"`
	Location graph.Location `json:"location" yaml:"location"`
	Arity    *int           `json:"arity,omitempty" yaml:"arity,omitempty"`
	Exported *bool          `json:"exported,omitempty" yaml:"exported,omitempty"`
}

// FileEdge is an edge entry.
type FileEdge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
	Kind string `json:"kind" yaml:"kind"`
}

// ToRepoGraph converts the document into a provider submission.
func (f *GraphFile) ToRepoGraph(repoID string) *graph.RepoGraph {
	rg := &graph.RepoGraph{RepoID: repoID, Revision: f.Revision}
	for _, n := range f.Nodes {
		node := graph.Node{
			QualifiedName: n.Name,
			Kind:          graph.ParseNodeKind(n.Kind),
			Location:      n.Location,
			Arity:         -1,
			Exported:      true,
		}
		if n.Arity != nil {
			node.Arity = *n.Arity
		}
		if n.Exported != nil {
			node.Exported = *n.Exported
		}
		rg.Nodes = append(rg.Nodes, node)
	}
	for _, e := range f.Edges {
		rg.Edges = append(rg.Edges, graph.EdgeSpec{From: e.From, To: e.To, Kind: graph.ParseEdgeKind(e.Kind)})
	}
	return rg
}

// ParseGraphFile decodes a graph document. YAML is selected by a .yaml or .yml
// extension; anything else is decoded as JSON.
func ParseGraphFile(path string) (*GraphFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.NotFound, "graph file not found: %s", path)
		}
		return nil, errors.New(errors.ProviderUnavailable, "failed to read graph file", err)
	}

	var gf GraphFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &gf)
	default:
		err = json.Unmarshal(data, &gf)
	}
	if err != nil {
		return nil, errors.New(errors.ValidationError, "failed to decode graph file", err).
			WithDetails(map[string]interface{}{"path": path})
	}
	return &gf, nil
}

// FileProvider reads a prebuilt graph document from the repository.
type FileProvider struct {
	opts   Options
	logger *slog.Logger
}

// NewFile creates a graph-file provider.
func NewFile(opts Options, logger *slog.Logger) *FileProvider {
	return &FileProvider{opts: opts, logger: slogutil.OrDiscard(logger)}
}

// Name implements Provider.
func (p *FileProvider) Name() string { return NameFile }

// Extract implements Provider.
func (p *FileProvider) Extract(ctx context.Context, repo repos.Repository) (*graph.RepoGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := p.locate(repo.RootPath)
	if err != nil {
		return nil, err
	}
	gf, err := ParseGraphFile(path)
	if err != nil {
		return nil, err
	}

	rg := gf.ToRepoGraph(repo.ID)
	if rg.Revision == "" {
		rg.Revision = repostate.RevisionOf(repo.RootPath, "")
	}
	p.logger.Debug("loaded graph file", "repo", repo.ID, "path", path, "nodes", len(rg.Nodes))
	return rg, nil
}

func (p *FileProvider) locate(root string) (string, error) {
	if p.opts.IndexPath != "" {
		if filepath.IsAbs(p.opts.IndexPath) {
			return p.opts.IndexPath, nil
		}
		return filepath.Join(root, p.opts.IndexPath), nil
	}
	for _, name := range DefaultGraphFiles {
		candidate := filepath.Join(root, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.Newf(errors.NotFound, "no graph file in %s", root).
		WithDetails(map[string]interface{}{"tried": DefaultGraphFiles})
}
