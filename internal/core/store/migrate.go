package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one numbered step of the journal schema. Steps are applied in
// order, each in its own transaction, and never edited once released.
type migration struct {
	version    int
	name       string
	statements []string
}

var migrations = []migration{
	{version: 1, name: "batch runs", statements: []string{
		`CREATE TABLE IF NOT EXISTS batch_runs (
			id TEXT PRIMARY KEY,
			operation TEXT NOT NULL,
			base_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			total INTEGER NOT NULL,
			successful INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			retries INTEGER NOT NULL DEFAULT 0,
			aborted INTEGER NOT NULL DEFAULT 0,
			abort_reason TEXT,
			status TEXT NOT NULL,
			error TEXT,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_runs_started ON batch_runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_runs_target ON batch_runs(base_id, table_name)`,
		`CREATE TABLE IF NOT EXISTS batch_failures (
			run_id TEXT NOT NULL,
			item_index INTEGER NOT NULL,
			record_id TEXT,
			kind TEXT NOT NULL,
			detail TEXT,
			PRIMARY KEY (run_id, item_index)
		)`,
	}},
	{version: 2, name: "record ids", statements: []string{
		`ALTER TABLE batch_runs ADD COLUMN record_ids TEXT`,
	}},
}

// SchemaVersion returns the highest applied migration, 0 for a new journal.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errNotInitialized
	}
	if _, err := s.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS journal_schema (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("create journal_schema: %w", err)
	}

	var version sql.NullInt64
	if err := s.DB.QueryRowContext(ctx, "SELECT MAX(version) FROM journal_schema").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(version.Int64), nil
}

// Migrate applies every migration newer than the journal's schema version.
func (s *Store) Migrate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("journal migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO journal_schema (version, applied_at) VALUES (?, strftime('%s','now'))", m.version); err != nil {
		return err
	}
	return tx.Commit()
}
