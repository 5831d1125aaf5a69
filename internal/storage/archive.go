package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"xrepo/internal/errors"
	"xrepo/internal/graph"
)

// ArchiveFormat identifies the portable snapshot encoding.
const ArchiveFormat = "xrepo-snapshot/1"

type archive struct {
	Format  string         `json:"format"`
	SavedAt time.Time      `json:"savedAt"`
	Repos   []archivedRepo `json:"repos"`
}

type archivedRepo struct {
	Checksum string           `json:"checksum"`
	Graph    graph.RepoExport `json:"graph"`
}

// WriteArchive writes a snapshot as zstd-compressed JSON.
func WriteArchive(w io.Writer, snap *Snapshot) error {
	a := archive{Format: ArchiveFormat, SavedAt: snap.SavedAt}
	for _, r := range snap.Repos {
		sum, err := Checksum(r)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", r.RepoID, err)
		}
		a.Repos = append(a.Repos, archivedRepo{Checksum: sum, Graph: r})
	}

	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	if err := json.NewEncoder(encoder).Encode(a); err != nil {
		encoder.Close()
		return fmt.Errorf("encoding archive: %w", err)
	}
	return encoder.Close()
}

// ReadArchive reads a snapshot written by WriteArchive and verifies every
// repository checksum.
func ReadArchive(r io.Reader) (*Snapshot, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	var a archive
	if err := json.NewDecoder(decoder).Decode(&a); err != nil {
		return nil, errors.New(errors.ValidationError, "invalid snapshot archive", err)
	}
	if a.Format != ArchiveFormat {
		return nil, errors.Newf(errors.ValidationError, "unsupported archive format %q", a.Format)
	}

	snap := &Snapshot{SavedAt: a.SavedAt}
	for _, ar := range a.Repos {
		sum, err := Checksum(ar.Graph)
		if err != nil {
			return nil, fmt.Errorf("checksum %s: %w", ar.Graph.RepoID, err)
		}
		if sum != ar.Checksum {
			return nil, errors.Newf(errors.StorageError, "archived graph of %s is corrupt", ar.Graph.RepoID).
				WithDetails(map[string]interface{}{"expected": ar.Checksum, "actual": sum})
		}
		snap.Repos = append(snap.Repos, ar.Graph)
	}
	return snap, nil
}
