package session

import (
	"context"
	"slices"
	"strings"
	"time"

	"xrepo/internal/graph"
	"xrepo/internal/providers"
	"xrepo/internal/repos"
	"xrepo/internal/repostate"
)

// IngestOptions selects what Ingest extracts.
type IngestOptions struct {
	// Repos limits ingestion to these IDs. Empty means every registered repository.
	Repos []string
	// Provider overrides both the per-repository and the configured provider.
	Provider string
	// Force re-extracts repositories whose revision has not changed.
	Force bool
}

// RepoReport describes one repository's ingestion.
type RepoReport struct {
	Repo     string        `json:"repo"`
	Provider string        `json:"provider"`
	Revision string        `json:"revision"`
	Nodes    int           `json:"nodes"`
	Edges    int           `json:"edges"`
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ProviderOptions returns the provider options for a provider name.
func (s *Session) ProviderOptions(name string) providers.Options {
	pc := s.cfg.Providers
	opts := providers.Options{
		Include:          pc.Include,
		Exclude:          pc.Exclude,
		RespectGitignore: pc.RespectGitignore,
		MaxFileBytes:     pc.MaxFileBytes,
	}
	switch name {
	case providers.NameSCIP:
		opts.IndexPath = pc.ScipIndexPath
	case providers.NameFile:
		opts.IndexPath = pc.GraphFile
	}
	return opts
}

func (s *Session) providerName(repo repos.Repository, override string) string {
	switch {
	case override != "":
		return override
	case repo.Provider != "":
		return repo.Provider
	default:
		return s.cfg.Providers.Default
	}
}

// Ingest extracts the selected repositories concurrently and merges each graph
// into the session graph. Repositories already in the graph at their current
// revision are skipped unless Force is set. Extraction failures leave the graph
// unchanged; merging happens only after every extraction succeeded.
func (s *Session) Ingest(ctx context.Context, opts IngestOptions) ([]RepoReport, error) {
	targets, err := s.selectRepos(opts.Repos)
	if err != nil {
		return nil, err
	}

	var reports []RepoReport
	groups := make(map[string][]repos.Repository)
	var order []string
	for _, repo := range targets {
		rev := repostate.RevisionOf(repo.RootPath, "")
		if !opts.Force && rev != "" && rev == repo.Revision && s.graph.HasRepo(repo.ID) {
			reports = append(reports, RepoReport{Repo: repo.ID, Revision: rev, Skipped: true})
			continue
		}
		name := s.providerName(repo, opts.Provider)
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], repo)
	}

	var results []providers.Result
	for _, name := range order {
		p, err := providers.New(name, s.ProviderOptions(name), s.logger)
		if err != nil {
			return nil, err
		}
		rs, err := providers.ExtractAll(ctx, p, groups[name], s.cfg.Providers.Parallelism, s.logger)
		if err != nil {
			return nil, err
		}
		for _, r := range rs {
			reports = append(reports, RepoReport{
				Repo:     r.Repo.ID,
				Provider: name,
				Revision: r.Graph.Revision,
				Nodes:    len(r.Graph.Nodes),
				Edges:    len(r.Graph.Edges),
				Duration: r.Duration,
			})
		}
		results = append(results, rs...)
	}

	for _, r := range results {
		if err := s.merge(ctx, r.Repo.ID, *r.Graph); err != nil {
			return nil, err
		}
	}
	if len(results) > 0 {
		if err := s.saveManifest(); err != nil {
			return nil, err
		}
	}

	slices.SortFunc(reports, func(a, b RepoReport) int { return strings.Compare(a.Repo, b.Repo) })
	return reports, nil
}

// merge admits one repository graph and records its revision.
func (s *Session) merge(ctx context.Context, repoID string, rg graph.RepoGraph) error {
	if err := s.graph.AddRepo(repoID, rg); err != nil {
		return err
	}
	if err := s.registry.SetRevision(repoID, rg.Revision); err != nil {
		return err
	}
	s.files.InvalidateRepo(repoID)
	return s.persistRepo(ctx, repoID)
}

// AddGraph admits a provider graph directly, bypassing extraction. The
// repository must be registered.
func (s *Session) AddGraph(ctx context.Context, repoID string, rg graph.RepoGraph) error {
	if _, err := s.registry.Get(repoID); err != nil {
		return err
	}
	if err := s.merge(ctx, repoID, rg); err != nil {
		return err
	}
	return s.saveManifest()
}

// ApplyChanges updates one repository incrementally.
func (s *Session) ApplyChanges(ctx context.Context, repoID string, cs graph.ChangeSet) error {
	if err := s.graph.UpdateRepo(repoID, cs); err != nil {
		return err
	}
	for _, n := range cs.UpsertNodes {
		if n.Location.Path != "" {
			s.files.Invalidate(repoID, n.Location.Path)
		}
	}
	if cs.Revision != "" {
		if err := s.registry.SetRevision(repoID, cs.Revision); err != nil {
			return err
		}
		if err := s.saveManifest(); err != nil {
			return err
		}
	}
	return s.persistRepo(ctx, repoID)
}

// persistRepo writes one repository's subgraph to the snapshot store, if any.
func (s *Session) persistRepo(ctx context.Context, repoID string) error {
	if s.store == nil {
		return nil
	}
	for _, r := range s.graph.Export() {
		if r.RepoID == repoID {
			return s.store.SaveRepo(ctx, r)
		}
	}
	return nil
}

func (s *Session) selectRepos(ids []string) ([]repos.Repository, error) {
	if len(ids) == 0 {
		return s.registry.List(), nil
	}
	out := make([]repos.Repository, 0, len(ids))
	for _, id := range ids {
		repo, err := s.registry.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, repo)
	}
	return out, nil
}
