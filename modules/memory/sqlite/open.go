package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// OpenJournal opens the journal database at path with default settings,
// creating and migrating it as needed. The caller closes the Journal.
func OpenJournal(ctx context.Context, path string) (*Journal, error) {
	cfg := Config{Path: path}
	cfg.defaults()
	db, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newJournal(db), nil
}

func (c *Config) pragmas() []string {
	p := []string{fmt.Sprintf("PRAGMA busy_timeout = %d", c.BusyTimeout)}
	if c.walEnabled() {
		p = append(p, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	return p
}

func open(ctx context.Context, cfg Config) (db *sql.DB, err error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("sqlite: create directory: %w", err)
	}

	db, err = sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()

	// Pragmas are per connection; one connection keeps them in force and
	// matches SQLite's single writer.
	db.SetMaxOpenConns(1)

	for _, p := range cfg.pragmas() {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}
