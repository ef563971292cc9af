package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds the DDL for every table. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS modules (
		hash       TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		source     TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		state        TEXT NOT NULL DEFAULT 'QUEUED',
		script       TEXT NOT NULL DEFAULT '',
		module_hash  TEXT NOT NULL DEFAULT '',
		function     TEXT NOT NULL DEFAULT '',
		args         TEXT NOT NULL DEFAULT '[]',
		memory_pages INTEGER NOT NULL DEFAULT 0,
		worker_id    INTEGER NOT NULL DEFAULT 0,
		result       TEXT,
		error        TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		started_at   TEXT,
		completed_at TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
