package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations[i] brings the schema from version i to i+1. The applied version
// is kept in PRAGMA user_version. Append only.
var migrations = [][]string{
	{
		`CREATE TABLE injections (
			id            TEXT    PRIMARY KEY,
			created_at    TEXT    NOT NULL,
			session_id    TEXT    NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			reason        TEXT    NOT NULL DEFAULT '',
			size          INTEGER NOT NULL DEFAULT 0,
			tokens        INTEGER NOT NULL DEFAULT 0,
			preview       TEXT    NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX idx_injections_created ON injections(created_at)`,
		`CREATE TABLE summary_runs (
			id         TEXT    PRIMARY KEY,
			created_at TEXT    NOT NULL,
			path       TEXT    NOT NULL DEFAULT '',
			sessions   INTEGER NOT NULL DEFAULT 0,
			error      TEXT    NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX idx_summary_runs_created ON summary_runs(created_at)`,
	},
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("sqlite: read schema version: %w", err)
	}
	return v, nil
}

// migrate applies the pending migrations, each in its own transaction. A
// database written by a newer memoir is refused.
func migrate(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("sqlite: schema version %d is newer than supported %d", current, len(migrations))
	}

	for v := current; v < len(migrations); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: migrate to %d: %w", v+1, err)
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("sqlite: migrate to %d: %w", v+1, err)
			}
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: migrate to %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: migrate to %d: %w", v+1, err)
		}
	}
	return nil
}
