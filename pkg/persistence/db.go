// Package persistence provides SQLite-based storage.
//
// It stores projects and their chat messages (with the fragment a successful run produced)
// and backs the workflow engine's events, runs and memoized steps.
package persistence

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"sagarmatha/pkg/logx"
)

//nolint:gochecknoglobals // package logger
var dbLogger = logx.NewLogger("persistence")

// Open opens a database at dbPath and brings its schema to the current version.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	dbLogger.Info("📦 Database opened: %s", dbPath)
	return db, nil
}
