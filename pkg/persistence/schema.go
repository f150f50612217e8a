package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 3

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// If database is empty (version 0), create fresh schema
	if currentVersion == 0 {
		return createSchema(db)
	}

	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}

	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies database migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}

		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
		dbLogger.Info("📦 Database migrated to schema version %d", version)
	}
	return nil
}

// runMigration applies a specific version migration.
func runMigration(db *sql.DB, version int) error {
	switch version {
	case 2:
		return migrateToVersion2(db)
	case 3:
		return migrateToVersion3(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 links messages to the workflow run that produced them.
func migrateToVersion2(db *sql.DB) error {
	migrations := []string{
		"ALTER TABLE messages ADD COLUMN run_id TEXT NOT NULL DEFAULT ''",
		"CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(run_id)",
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", migration, err)
		}
	}
	return nil
}

// runReplyIndex allows one assistant message per workflow run.
const runReplyIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_run_reply
	ON messages(run_id) WHERE run_id != '' AND role = 'ASSISTANT'`

// migrateToVersion3 enforces a single reply per workflow run.
func migrateToVersion3(db *sql.DB) error {
	if _, err := db.Exec(runReplyIndex); err != nil {
		return fmt.Errorf("failed to execute migration: %s: %w", runReplyIndex, err)
	}
	return nil
}

// createSchema creates all required tables and indices.
func createSchema(db *sql.DB) error {
	tables := []string{
		// Schema version tracking
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			run_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('USER', 'ASSISTANT')),
			type TEXT NOT NULL CHECK (type IN ('RESULT', 'ERROR')),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		// At most one fragment per message
		`CREATE TABLE IF NOT EXISTS fragments (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL UNIQUE REFERENCES messages(id) ON DELETE CASCADE,
			sandbox_url TEXT NOT NULL,
			title TEXT NOT NULL,
			files TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS workflow_events (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			data TEXT NOT NULL,
			ts DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			function_id TEXT NOT NULL,
			event_id TEXT NOT NULL REFERENCES workflow_events(id),
			status TEXT NOT NULL CHECK (status IN ('queued', 'running', 'completed', 'failed')),
			attempt INTEGER NOT NULL DEFAULT 0,
			output TEXT,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS workflow_steps (
			run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
			step_key TEXT NOT NULL,
			output TEXT NOT NULL,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (run_id, step_key)
		)`,
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_messages_project ON messages(project_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(run_id)",
		runReplyIndex,
		"CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_workflow_runs_event ON workflow_runs(event_id)",
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// setSchemaVersion records the current schema version.
func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
