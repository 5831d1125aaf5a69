package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"slices"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"xrepo/internal/errors"
	"xrepo/internal/graph"
	"xrepo/internal/output"
)

// Snapshot is the persisted merged graph.
type Snapshot struct {
	SavedAt time.Time          `json:"savedAt"`
	Repos   []graph.RepoExport `json:"repos"`
}

// Revisions maps each repository to the revision it was last saved at.
func (s *Snapshot) Revisions() map[string]string {
	out := make(map[string]string, len(s.Repos))
	for _, r := range s.Repos {
		out[r.RepoID] = r.Revision
	}
	return out
}

// RepoInfo describes one saved repository without loading its graph.
type RepoInfo struct {
	RepoID   string    `json:"repoId"`
	Revision string    `json:"revision"`
	Nodes    int       `json:"nodes"`
	Edges    int       `json:"edges"`
	Checksum string    `json:"checksum"`
	SavedAt  time.Time `json:"savedAt"`
}

// Checksum returns the BLAKE3 digest of a repository export's canonical encoding.
// Node and edge order do not affect the digest.
func Checksum(r graph.RepoExport) (string, error) {
	data, err := output.DeterministicEncode(canonical(r))
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func canonical(r graph.RepoExport) graph.RepoExport {
	nodes := slices.Clone(r.Nodes)
	slices.SortFunc(nodes, func(a, b graph.Node) int { return strings.Compare(a.QualifiedName, b.QualifiedName) })
	edges := slices.Clone(r.Edges)
	slices.SortFunc(edges, func(a, b graph.Edge) int {
		if c := strings.Compare(string(a.From), string(b.From)); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.To), string(b.To)); c != 0 {
			return c
		}
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
	return graph.RepoExport{RepoID: r.RepoID, Revision: r.Revision, Nodes: nodes, Edges: edges}
}

// SaveSnapshot replaces the stored snapshot with the given repositories in a
// single transaction.
func (db *DB) SaveSnapshot(ctx context.Context, repos []graph.RepoExport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	err := db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM repo_snapshots"); err != nil {
			return err
		}
		for _, r := range repos {
			if err := putRepo(ctx, tx, r, now); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO snapshot_meta (key, value) VALUES ('saved_at', ?)",
			now.Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return errors.New(errors.StorageError, "failed to save snapshot", err)
	}
	db.logger.Info("Saved snapshot", "repos", len(repos), "path", db.dbPath)
	return nil
}

// SaveRepo replaces a single repository in the stored snapshot.
func (db *DB) SaveRepo(ctx context.Context, r graph.RepoExport) error {
	now := time.Now().UTC()
	err := db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM repo_snapshots WHERE repo_id = ?", r.RepoID); err != nil {
			return err
		}
		if err := putRepo(ctx, tx, r, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO snapshot_meta (key, value) VALUES ('saved_at', ?)",
			now.Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return errors.New(errors.StorageError, "failed to save repository "+r.RepoID, err)
	}
	db.logger.Debug("Saved repository snapshot", "repo", r.RepoID, "revision", r.Revision)
	return nil
}

// DeleteRepo removes a repository from the stored snapshot. Unknown IDs are
// not an error.
func (db *DB) DeleteRepo(ctx context.Context, repoID string) error {
	err := db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM repo_snapshots WHERE repo_id = ?", repoID)
		return err
	})
	if err != nil {
		return errors.New(errors.StorageError, "failed to delete repository "+repoID, err)
	}
	return nil
}

func putRepo(ctx context.Context, tx *sql.Tx, r graph.RepoExport, savedAt time.Time) error {
	sum, err := Checksum(r)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO repo_snapshots (repo_id, revision, node_count, edge_count, checksum, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.RepoID, r.Revision, len(r.Nodes), len(r.Edges), sum, savedAt.Format(time.RFC3339Nano))
	if err != nil {
		return err
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshot_nodes (repo_id, name, kind, path, line, arity, exported)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer nodeStmt.Close()
	for _, n := range r.Nodes {
		if _, err := nodeStmt.ExecContext(ctx, r.RepoID, n.QualifiedName, string(n.Kind),
			n.Location.Path, n.Location.Line, n.Arity, n.Exported); err != nil {
			return err
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshot_edges (repo_id, from_id, to_id, kind)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()
	for _, e := range r.Edges {
		if _, err := edgeStmt.ExecContext(ctx, r.RepoID, string(e.From), string(e.To), string(e.Kind)); err != nil {
			return err
		}
	}
	return nil
}

// LoadSnapshot reads the stored snapshot. Every repository's checksum is
// verified; a mismatch is a StorageError naming the repository. An empty
// database yields an empty snapshot.
func (db *DB) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	infos, err := db.Repos(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{}
	var savedAt string
	err = db.conn.QueryRowContext(ctx, "SELECT value FROM snapshot_meta WHERE key = 'saved_at'").Scan(&savedAt)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.New(errors.StorageError, "failed to read snapshot metadata", err)
	}
	if savedAt != "" {
		snap.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
	}

	for _, info := range infos {
		r, err := db.loadRepo(ctx, info)
		if err != nil {
			return nil, errors.New(errors.StorageError, "failed to load repository "+info.RepoID, err)
		}
		sum, err := Checksum(r)
		if err != nil {
			return nil, errors.New(errors.InternalError, "failed to checksum repository "+info.RepoID, err)
		}
		if sum != info.Checksum {
			return nil, errors.Newf(errors.StorageError, "snapshot of %s is corrupt", info.RepoID).
				WithDetails(map[string]interface{}{"expected": info.Checksum, "actual": sum})
		}
		snap.Repos = append(snap.Repos, r)
	}
	return snap, nil
}

func (db *DB) loadRepo(ctx context.Context, info RepoInfo) (graph.RepoExport, error) {
	r := graph.RepoExport{RepoID: info.RepoID, Revision: info.Revision}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT name, kind, path, line, arity, exported FROM snapshot_nodes
		WHERE repo_id = ? ORDER BY name
	`, info.RepoID)
	if err != nil {
		return r, err
	}
	for rows.Next() {
		n := graph.Node{RepoID: info.RepoID}
		var kind string
		if err := rows.Scan(&n.QualifiedName, &kind, &n.Location.Path, &n.Location.Line, &n.Arity, &n.Exported); err != nil {
			rows.Close()
			return r, err
		}
		n.Kind = graph.NodeKind(kind)
		r.Nodes = append(r.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return r, err
	}
	rows.Close()

	rows, err = db.conn.QueryContext(ctx, `
		SELECT from_id, to_id, kind FROM snapshot_edges
		WHERE repo_id = ? ORDER BY from_id, to_id, kind
	`, info.RepoID)
	if err != nil {
		return r, err
	}
	defer rows.Close()
	for rows.Next() {
		var from, to, kind string
		if err := rows.Scan(&from, &to, &kind); err != nil {
			return r, err
		}
		r.Edges = append(r.Edges, graph.Edge{From: graph.NodeID(from), To: graph.NodeID(to), Kind: graph.EdgeKind(kind)})
	}
	return r, rows.Err()
}

// Repos lists the saved repositories ordered by ID.
func (db *DB) Repos(ctx context.Context) ([]RepoInfo, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT repo_id, revision, node_count, edge_count, checksum, saved_at
		FROM repo_snapshots ORDER BY repo_id
	`)
	if err != nil {
		return nil, errors.New(errors.StorageError, "failed to list saved repositories", err)
	}
	defer rows.Close()

	var out []RepoInfo
	for rows.Next() {
		var info RepoInfo
		var savedAt string
		if err := rows.Scan(&info.RepoID, &info.Revision, &info.Nodes, &info.Edges, &info.Checksum, &savedAt); err != nil {
			return nil, errors.New(errors.StorageError, "failed to scan saved repository", err)
		}
		info.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.StorageError, "failed to list saved repositories", err)
	}
	return out, nil
}

// Revisions returns the last saved revision of every repository.
func (db *DB) Revisions(ctx context.Context) (map[string]string, error) {
	infos, err := db.Repos(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(infos))
	for _, info := range infos {
		out[info.RepoID] = info.Revision
	}
	return out, nil
}
