// Package session wires the registry, graph, detector, scorer and context window
// into one explicitly owned handle. There is no process-wide state: every
// session owns its own graph and window.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"xrepo/internal/cache"
	"xrepo/internal/config"
	"xrepo/internal/contextwin"
	"xrepo/internal/errors"
	"xrepo/internal/graph"
	"xrepo/internal/integration"
	"xrepo/internal/paths"
	"xrepo/internal/relevance"
	"xrepo/internal/repos"
	"xrepo/internal/slogutil"
	"xrepo/internal/storage"
	"xrepo/internal/tokens"
)

// Session is one working set of repositories with its graph and context window.
type Session struct {
	cfg       *config.Config
	workspace string
	logger    *slog.Logger

	registry  *repos.Registry
	graph     *graph.Graph
	detector  *integration.Detector
	scorer    *relevance.Scorer
	window    *contextwin.Window
	files     *cache.FileCache
	estimator tokens.Estimator
	store     *storage.DB

	// activeOverride, when set, replaces the registry's active repository for
	// path resolution without touching the manifest.
	activeOverride string
}

// New creates an in-memory session with an empty registry and no snapshot store.
func New(cfg *config.Config, logger *slog.Logger) (*Session, error) {
	return build(cfg, "", repos.NewRegistry(), nil, logger)
}

// Open creates a session for a workspace directory. The registry is loaded from
// the workspace manifest and, when storage is enabled, the snapshot store is
// opened. Call Close when done.
func Open(workspace string, cfg *config.Config, logger *slog.Logger) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger = slogutil.OrDiscard(logger)

	reg, err := repos.LoadManifest(workspace)
	if err != nil {
		return nil, err
	}

	var store *storage.DB
	if cfg.Storage.Enabled {
		store, err = storage.OpenPath(paths.ResolveInWorkspace(workspace, cfg.Storage.SnapshotPath), logger)
		if err != nil {
			return nil, errors.New(errors.StorageError, "failed to open snapshot store", err)
		}
	}

	s, err := build(cfg, workspace, reg, store, logger)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	return s, nil
}

func build(cfg *config.Config, workspace string, reg *repos.Registry, store *storage.DB, logger *slog.Logger) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = slogutil.OrDiscard(logger)

	g := graph.New(logger)
	scorer := relevance.NewScorer(relevance.Options{
		HighScoreThreshold: cfg.Context.HighScoreThreshold,
		StructuralBoost:    cfg.Context.StructuralBoost,
		CacheEntries:       cfg.Cache.ScoreEntries,
	})
	estimator := tokens.New(cfg.Tokens.Encoding, logger)

	window, err := contextwin.New(contextwin.Options{
		TokenBudget:       cfg.Context.TokenBudget,
		DependencyHops:    cfg.Context.DependencyHops,
		AuxiliaryPriority: cfg.Context.AuxiliaryPriority,
	}, scorer, g, estimator, logger)
	if err != nil {
		return nil, err
	}

	files, err := cache.New(cfg.Cache.FileEntries, func(k cache.Key) {
		logger.Debug("Evicted cached file", "repo", k.Repo, "path", k.Path)
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:       cfg,
		workspace: workspace,
		logger:    logger,
		registry:  reg,
		graph:     g,
		detector: integration.NewDetector(g, integration.Options{
			MinConfidence: cfg.Detector.MinConfidence,
			MaxPairs:      cfg.Detector.MaxPairs,
		}, logger),
		scorer:    scorer,
		window:    window,
		files:     files,
		estimator: estimator,
		store:     store,
	}, nil
}

// Close releases the snapshot store.
func (s *Session) Close() error {
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

// Registry returns the session's repository registry.
func (s *Session) Registry() *repos.Registry { return s.registry }

// Graph returns the cross-repository graph.
func (s *Session) Graph() *graph.Graph { return s.graph }

// Window returns the context window.
func (s *Session) Window() *contextwin.Window { return s.window }

// Config returns the session configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Store returns the snapshot store, nil when storage is disabled.
func (s *Session) Store() *storage.DB { return s.store }

// Workspace returns the workspace directory, empty for in-memory sessions.
func (s *Session) Workspace() string { return s.workspace }

// saveManifest persists the registry when the session has a workspace.
func (s *Session) saveManifest() error {
	if s.workspace == "" {
		return nil
	}
	return repos.SaveManifest(s.workspace, s.registry)
}

// RegisterRepo adds a repository to the registry.
func (s *Session) RegisterRepo(id, root string, tags []string) (repos.Repository, error) {
	repo, err := s.registry.Add(id, root, tags)
	if err != nil {
		return repos.Repository{}, err
	}
	if err := s.saveManifest(); err != nil {
		_ = s.registry.Remove(id)
		return repos.Repository{}, fmt.Errorf("save manifest: %w", err)
	}
	s.logger.Info("Registered repository", "repo", id, "root", repo.RootPath)
	return repo, nil
}

// SetActive selects the repository unprefixed paths resolve against.
func (s *Session) SetActive(id string) error {
	if err := s.registry.SetActive(id); err != nil {
		return err
	}
	return s.saveManifest()
}

// OverrideActive makes unprefixed paths resolve against id for the lifetime of
// the session only. An empty id clears the override.
func (s *Session) OverrideActive(id string) error {
	if id != "" && !s.registry.Has(id) {
		return errors.Newf(errors.NotFound, "repository %s not found", id)
	}
	s.activeOverride = id
	return nil
}

// ActiveRepo returns the repository unprefixed paths resolve against.
func (s *Session) ActiveRepo() string {
	if s.activeOverride != "" {
		return s.activeOverride
	}
	return s.registry.Active()
}

// Resolve splits a repo-prefixed path against the session's active repository.
// A path that leaves the repository root, through ".." or a symlink, is a
// VALIDATION_ERROR.
func (s *Session) Resolve(prefixedPath string) (repos.Resolution, error) {
	res, err := s.registry.ResolvePathIn(prefixedPath, s.ActiveRepo())
	if err != nil {
		return repos.Resolution{}, err
	}
	repo, err := s.registry.Get(res.RepoID)
	if err != nil {
		return repos.Resolution{}, err
	}
	if !paths.RelWithinRepo(repo.RootPath, res.RelPath) {
		return repos.Resolution{}, errors.Newf(errors.ValidationError,
			"path %s escapes repository %s", prefixedPath, repo.ID)
	}
	if res.RelPath != "" {
		res.RelPath = path.Clean(paths.NormalizePath(res.RelPath))
	}
	return res, nil
}

// Forget removes a repository from the registry, the graph, the file cache and
// the snapshot store. Context items of the repository stay in the window until
// the caller removes them.
func (s *Session) Forget(ctx context.Context, id string) error {
	if _, err := s.registry.Get(id); err != nil {
		return err
	}
	if s.graph.HasRepo(id) {
		if err := s.graph.RemoveRepo(id); err != nil {
			return err
		}
	}
	if err := s.registry.Remove(id); err != nil {
		return err
	}
	if s.activeOverride == id {
		s.activeOverride = ""
	}
	dropped := s.files.InvalidateRepo(id)
	if s.store != nil {
		if err := s.store.DeleteRepo(ctx, id); err != nil {
			return err
		}
	}
	s.logger.Info("Forgot repository", "repo", id, "cached_files", dropped)
	return s.saveManifest()
}

// IntegrationPoints runs integration point detection over the current graph.
// A partial scan is logged and returned with its warning.
func (s *Session) IntegrationPoints(ctx context.Context) (*integration.Result, error) {
	res, err := s.detector.FindIntegrationPoints(ctx)
	if err != nil {
		return nil, err
	}
	if res.Partial != nil {
		s.logger.Warn("Integration scan incomplete",
			"reason", res.Partial.Reason,
			"pairs_completed", res.Partial.PairsCompleted,
			"pairs_total", res.Partial.PairsTotal,
		)
	}
	return res, nil
}

// ScorerStats reports the relevance cache counters.
func (s *Session) ScorerStats() relevance.Stats {
	return s.scorer.Stats()
}

// FileCacheStats reports the file cache counters.
func (s *Session) FileCacheStats() cache.Stats {
	return s.files.Stats()
}
