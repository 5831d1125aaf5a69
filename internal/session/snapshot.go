package session

import (
	"context"
	"io"
	"time"

	"xrepo/internal/errors"
	"xrepo/internal/graph"
	"xrepo/internal/storage"
)

// SaveSnapshot writes the whole graph to the snapshot store.
func (s *Session) SaveSnapshot(ctx context.Context) error {
	if s.store == nil {
		return errors.New(errors.ConfigurationError, "snapshot storage is disabled", nil)
	}
	return s.store.SaveSnapshot(ctx, s.graph.Export())
}

// Restore rebuilds the graph from the snapshot store and returns the number of
// repositories restored. The restored nodes and edges are exactly those saved
// for the registered repositories.
func (s *Session) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, errors.New(errors.ConfigurationError, "snapshot storage is disabled", nil)
	}
	snap, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	return s.rebuild(snap)
}

// ExportArchive writes the graph as a portable compressed archive.
func (s *Session) ExportArchive(w io.Writer) error {
	return storage.WriteArchive(w, &storage.Snapshot{
		SavedAt: time.Now().UTC(),
		Repos:   s.graph.Export(),
	})
}

// ImportArchive replaces the graph with an archive's contents and returns the
// number of repositories restored.
func (s *Session) ImportArchive(ctx context.Context, r io.Reader) (int, error) {
	snap, err := storage.ReadArchive(r)
	if err != nil {
		return 0, err
	}
	n, err := s.rebuild(snap)
	if err != nil {
		return 0, err
	}
	if s.store != nil {
		if err := s.store.SaveSnapshot(ctx, s.graph.Export()); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// rebuild replaces the graph with a snapshot. Repositories no longer in the
// registry are skipped. Stored edges into repositories that are not restored
// are kept, hidden until their target repository is admitted again.
func (s *Session) rebuild(snap *storage.Snapshot) (int, error) {
	rgs := make([]graph.RepoGraph, 0, len(snap.Repos))
	for _, r := range snap.Repos {
		if !s.registry.Has(r.RepoID) {
			s.logger.Warn("Skipping snapshot of unregistered repository", "repo", r.RepoID)
			continue
		}
		rgs = append(rgs, r.ToRepoGraph())
	}

	if err := s.graph.Rebuild(rgs); err != nil {
		return 0, err
	}
	for _, rg := range rgs {
		if err := s.registry.SetRevision(rg.RepoID, rg.Revision); err != nil {
			return 0, err
		}
	}
	s.logger.Info("Restored graph", "repos", len(rgs), "saved_at", snap.SavedAt)
	return len(rgs), s.saveManifest()
}
