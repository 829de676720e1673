package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/memoir/internal/facade"
)

// DefaultInjectionLimit caps Injections when no limit is given.
const DefaultInjectionLimit = 50

// Fixed-width so that text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Journal records injections and summary runs in SQLite.
type Journal struct {
	db *sql.DB
}

// Compile-time interface guard.
var _ facade.Journal = (*Journal)(nil)

func newJournal(db *sql.DB) *Journal { return &Journal{db: db} }

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// RecordInjection implements facade.Journal. A missing ID or timestamp is
// filled in.
func (j *Journal) RecordInjection(ctx context.Context, in facade.Injection) error {
	id, err := recordID(in.ID)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO injections (id, created_at, session_id, message_count, reason, size, tokens, preview)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, timestamp(in.Timestamp), in.SessionID, in.MessageCount,
		in.Reason, in.Size, in.Tokens, in.Preview,
	)
	if err != nil {
		return fmt.Errorf("sqlite: record injection: %w", err)
	}
	return nil
}

// RecordSummaryRun implements facade.Journal.
func (j *Journal) RecordSummaryRun(ctx context.Context, run facade.SummaryRun) error {
	id, err := recordID(run.ID)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO summary_runs (id, created_at, path, sessions, error)
		VALUES (?, ?, ?, ?, ?)`,
		id, timestamp(run.Timestamp), run.Path, run.Sessions, run.Error,
	)
	if err != nil {
		return fmt.Errorf("sqlite: record summary run: %w", err)
	}
	return nil
}

// Injections implements facade.Journal, newest first.
func (j *Journal) Injections(ctx context.Context, limit int) ([]facade.Injection, error) {
	if limit <= 0 {
		limit = DefaultInjectionLimit
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, created_at, session_id, message_count, reason, size, tokens, preview
		FROM injections
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list injections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []facade.Injection
	for rows.Next() {
		var (
			in facade.Injection
			ts string
		)
		if err := rows.Scan(&in.ID, &ts, &in.SessionID, &in.MessageCount,
			&in.Reason, &in.Size, &in.Tokens, &in.Preview); err != nil {
			return nil, fmt.Errorf("sqlite: scan injection: %w", err)
		}
		if in.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("sqlite: parse injection time %q: %w", ts, err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list injections: %w", err)
	}
	return out, nil
}

// SummaryRuns lists the latest summary runs, newest first.
func (j *Journal) SummaryRuns(ctx context.Context, limit int) ([]facade.SummaryRun, error) {
	if limit <= 0 {
		limit = DefaultInjectionLimit
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, created_at, path, sessions, error
		FROM summary_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list summary runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []facade.SummaryRun
	for rows.Next() {
		var (
			run facade.SummaryRun
			ts  string
		)
		if err := rows.Scan(&run.ID, &ts, &run.Path, &run.Sessions, &run.Error); err != nil {
			return nil, fmt.Errorf("sqlite: scan summary run: %w", err)
		}
		if run.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("sqlite: parse summary run time %q: %w", ts, err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Prune deletes records older than cutoff from both tables.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"injections", "summary_runs"} {
		res, err := j.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < ?", timestamp(cutoff))
		if err != nil {
			return total, fmt.Errorf("sqlite: prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func recordID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("sqlite: generate id: %w", err)
	}
	return u.String(), nil
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}
