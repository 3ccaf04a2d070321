// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package store implements the SQLite-backed persistence gateway for
// datasets and file records.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is a SQLite-backed store for dataset profiles.
type SQLiteStore struct {
	db *sql.DB
}

// StoreConfig holds configuration for creating a SQLiteStore.
type StoreConfig struct {
	// Path is the file path for file-based SQLite.
	// If empty, an in-memory database is used.
	Path string

	// InitSchema controls whether to run schema initialization.
	// For file-based mode, this should typically be false since the server
	// expects the database to already exist with schema applied.
	InitSchema bool
}

// NewSQLiteStore creates a new in-memory SQLite store with schema loaded.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(StoreConfig{InitSchema: true})
}

// NewSQLiteStoreWithConfig creates a SQLite store based on the provided
// configuration. For file-based mode (Path is set), the database file MUST
// already exist. Use InitDatabase to create and initialize a new database.
func NewSQLiteStoreWithConfig(cfg StoreConfig) (*SQLiteStore, error) {
	var dsn string

	if cfg.Path == "" {
		// In-memory mode
		dsn = "file::memory:?cache=shared&_pragma=foreign_keys(1)"
	} else {
		// File-based mode: verify the database file exists before opening
		// (SQLite will create it automatically otherwise, which we don't want)
		if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
			return nil, fmt.Errorf("database file does not exist: %s (run init-db command to create it)", cfg.Path)
		}

		// Apply PRAGMA's per-connection via DSN so the pool always has them.
		// modernc.org/sqlite supports repeated _pragma=... parameters.
		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
			cfg.Path,
		)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.InitSchema || cfg.Path == "" {
		if _, err := db.Exec(schemaSQL); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// InitDatabase creates a new SQLite database file and initializes the schema.
// This should be called by an init-db command before starting the server in
// file-based mode. Returns an error if the file already exists.
func InitDatabase(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("database file already exists: %s", path)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}

	return nil
}

// CompactDatabase compacts a SQLite database file by running VACUUM and
// checkpointing WAL. This creates a single compact database file suitable
// for backup or export.
func CompactDatabase(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("database file does not exist: %s", path)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Checkpoint WAL to merge all changes into the main database file
	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint WAL: %w", err)
	}

	// VACUUM rebuilds the database file, repacking it into minimal disk space
	if _, err := db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Stats reports row counts for diagnostics.
type Stats struct {
	Datasets    int
	FileRecords int
}

// Stats returns basic statistics about the store.
func (s *SQLiteStore) Stats() Stats {
	var stats Stats
	s.db.QueryRow("SELECT COUNT(*) FROM datasets").Scan(&stats.Datasets)
	s.db.QueryRow("SELECT COUNT(*) FROM file_records").Scan(&stats.FileRecords)
	return stats
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
