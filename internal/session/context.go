package session

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"xrepo/internal/contextwin"
	"xrepo/internal/errors"
	"xrepo/internal/graph"
	"xrepo/internal/repos"
)

// AddResult reports the outcome of AddFile.
type AddResult struct {
	ID        contextwin.ItemID      `json:"id"`
	Added     bool                   `json:"added"`
	TokenCost int                    `json:"tokenCost"`
	Symbols   int                    `json:"symbols"`
	Remaining int                    `json:"remaining"`
	Warning   *repos.MisrouteWarning `json:"warning,omitempty"`
}

// AddFile resolves a repo-prefixed path, reads the file and offers it to the
// window at the given priority. A file that does not fit is reported with
// Added false and leaves the window unchanged.
func (s *Session) AddFile(ctx context.Context, prefixedPath string, priority int) (AddResult, error) {
	if err := ctx.Err(); err != nil {
		return AddResult{}, err
	}
	res, err := s.Resolve(prefixedPath)
	if err != nil {
		return AddResult{}, err
	}
	if res.Warning != nil {
		s.logger.Warn("Path resolved against active repository",
			"prefix", res.Warning.Prefix,
			"active", res.Warning.Active,
			"path", res.Warning.Path,
		)
	}
	repo, err := s.registry.Get(res.RepoID)
	if err != nil {
		return AddResult{}, err
	}
	if s.registry.ValidateState(repo.ID) != repos.RepoStateValid {
		return AddResult{}, errors.Newf(errors.NotFound, "repository %s root %s is missing", repo.ID, repo.RootPath)
	}

	data, err := s.files.Read(repo.ID, repo.RootPath, res.RelPath)
	if err != nil {
		return AddResult{}, err
	}
	return s.offer(contextwin.Item{
		ID:        contextwin.ItemID{Repo: repo.ID, Path: res.RelPath},
		Content:   string(data),
		TokenCost: s.estimator.Count(string(data)),
		Symbols:   s.graph.NodesAt(repo.ID, res.RelPath),
	}, priority, res.Warning), nil
}

// AddSummary offers a summary in place of full content for a repo-prefixed path.
func (s *Session) AddSummary(prefixedPath, summary string, priority int) (AddResult, error) {
	res, err := s.Resolve(prefixedPath)
	if err != nil {
		return AddResult{}, err
	}
	return s.offer(contextwin.Item{
		ID:        contextwin.ItemID{Repo: res.RepoID, Path: res.RelPath},
		Summary:   summary,
		TokenCost: s.estimator.Count(summary),
		Symbols:   s.graph.NodesAt(res.RepoID, res.RelPath),
	}, priority, res.Warning), nil
}

func (s *Session) offer(item contextwin.Item, priority int, warning *repos.MisrouteWarning) AddResult {
	added := s.window.Add(item, priority)
	if !added {
		s.logger.Debug("Context item rejected, over budget",
			"item", item.ID.String(),
			"cost", item.TokenCost,
			"remaining", s.window.Remaining(),
		)
	}
	return AddResult{
		ID:        item.ID,
		Added:     added,
		TokenCost: item.TokenCost,
		Symbols:   len(item.Symbols),
		Remaining: s.window.Remaining(),
		Warning:   warning,
	}
}

// Optimize rescores and trims the window for a query.
func (s *Session) Optimize(query string) {
	s.window.Optimize(query)
	s.logger.Debug("Optimized context window",
		"state", s.window.State().String(),
		"used", s.window.UsedTokens(),
		"budget", s.window.Budget(),
	)
}

// UnifiedContext returns the window payload.
func (s *Session) UnifiedContext() contextwin.UnifiedContext {
	return s.window.UnifiedContext()
}

// Suggestion is a file not yet in the window that the graph ranks close to the
// retained items.
type Suggestion struct {
	Repo    string         `json:"repo"`
	Path    string         `json:"path"`
	Score   float64        `json:"score"`
	Symbols []graph.NodeID `json:"symbols"`
}

// Suggest ranks graph neighbours of the retained items and returns up to limit
// files that are not already in the window, best first.
func (s *Session) Suggest(ctx context.Context, limit int) ([]Suggestion, error) {
	var seeds []graph.NodeID
	for _, it := range s.window.Items() {
		if !it.Auxiliary {
			seeds = append(seeds, it.Symbols...)
		}
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	opts := graph.DefaultRankOptions()
	opts.ExcludeSeeds = true
	opts.TopK = max(limit*4, opts.TopK)
	ranked, err := s.graph.Rank(ctx, seeds, opts)
	if err != nil {
		return nil, err
	}

	byFile := make(map[contextwin.ItemID]*Suggestion)
	for _, r := range ranked.Results {
		n, ok := s.graph.Node(r.NodeID)
		if !ok || n.Location.Path == "" {
			continue
		}
		id := contextwin.ItemID{Repo: n.RepoID, Path: n.Location.Path}
		if s.window.Has(id) {
			continue
		}
		sg, ok := byFile[id]
		if !ok {
			sg = &Suggestion{Repo: id.Repo, Path: id.Path}
			byFile[id] = sg
		}
		sg.Score += r.Score
		sg.Symbols = append(sg.Symbols, r.NodeID)
	}

	out := make([]Suggestion, 0, len(byFile))
	for _, sg := range byFile {
		slices.Sort(sg.Symbols)
		out = append(out, *sg)
	}
	slices.SortFunc(out, func(a, b Suggestion) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := strings.Compare(a.Repo, b.Repo); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
