package storage

import (
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}
		if err := createSnapshotTables(tx); err != nil {
			return err
		}
		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	switch {
	case version == currentSchemaVersion:
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	case version > currentSchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	case version == 0:
		// Created but never initialized, e.g. an interrupted first run.
		return db.initializeSchema()
	}

	db.logger.Info("Running database migrations",
		"from_version", version,
		"to_version", currentSchemaVersion,
	)
	return nil
}

func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.conn.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createSnapshotTables creates one row per saved repository plus its nodes and
// owned edges. Deleting a repository row cascades to its nodes and edges.
func createSnapshotTables(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS repo_snapshots (
			repo_id TEXT PRIMARY KEY,
			revision TEXT NOT NULL,
			node_count INTEGER NOT NULL,
			edge_count INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			saved_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshot_nodes (
			repo_id TEXT NOT NULL REFERENCES repo_snapshots(repo_id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			path TEXT NOT NULL,
			line INTEGER NOT NULL,
			arity INTEGER NOT NULL,
			exported INTEGER NOT NULL,
			PRIMARY KEY (repo_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS snapshot_edges (
			repo_id TEXT NOT NULL REFERENCES repo_snapshots(repo_id) ON DELETE CASCADE,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			PRIMARY KEY (repo_id, from_id, to_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS snapshot_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_snapshot_edges_to ON snapshot_edges(to_id)",
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
