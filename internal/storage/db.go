// Package storage persists cross-repository graph snapshots in SQLite so a
// session can resume without re-extracting every repository.
package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"xrepo/internal/paths"
	"xrepo/internal/slogutil"
)

// DB represents a database connection with transaction helpers
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
	dbPath string
}

// Open opens or creates the workspace database at .xrepo/xrepo.db.
// If the database doesn't exist, it is created along with all tables.
func Open(workspaceRoot string, logger *slog.Logger) (*DB, error) {
	if _, err := paths.EnsureWorkspaceDir(workspaceRoot); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return OpenPath(paths.DatabasePath(workspaceRoot), logger)
}

// OpenPath opens or creates a database at an explicit path.
func OpenPath(dbPath string, logger *slog.Logger) (*DB, error) {
	logger = slogutil.OrDiscard(logger)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	dbExists := fileExists(dbPath)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	db := &DB{
		conn:   conn,
		logger: logger,
		dbPath: dbPath,
	}

	if !dbExists {
		logger.Info("Creating new database", "path", dbPath)
		if err := db.initializeSchema(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	} else {
		logger.Debug("Running database migrations", "path", dbPath)
		if err := db.runMigrations(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.dbPath
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// WithTx executes a function within a transaction.
// If the function returns an error, the transaction is rolled back.
func (db *DB) WithTx(fn func(*sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("failed to rollback transaction",
				"error", err.Error(),
				"rollback_error", rbErr.Error(),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
