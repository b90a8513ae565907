package store

import (
	"context"
	"database/sql"
	"fmt"
)

var libsqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS feed_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		payload TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_feed_snapshots_source_fetched ON feed_snapshots(source, fetched_at DESC);`,
	`CREATE TABLE IF NOT EXISTS datasets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		dataset_id TEXT NOT NULL UNIQUE,
		title TEXT,
		organism TEXT,
		study_type TEXT,
		status TEXT,
		updated_at INTEGER,
		raw TEXT NOT NULL,
		inserted_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_datasets_updated ON datasets(updated_at DESC);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS feed_snapshots (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		payload JSONB NOT NULL,
		fetched_at BIGINT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_feed_snapshots_source_fetched ON feed_snapshots(source, fetched_at DESC);`,
	`CREATE TABLE IF NOT EXISTS datasets (
		id BIGSERIAL PRIMARY KEY,
		dataset_id TEXT NOT NULL UNIQUE,
		title TEXT,
		organism TEXT,
		study_type TEXT,
		status TEXT,
		updated_at BIGINT,
		raw JSONB NOT NULL,
		inserted_at BIGINT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_datasets_updated ON datasets(updated_at DESC NULLS LAST);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	statements := libsqlSchema
	if s.driver == driverPostgres {
		statements = postgresSchema
	}

	for _, stmt := range statements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	if err := s.ensureColumn(ctx, "datasets", "status", "TEXT"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column to databases created before it existed.
func (s *Store) ensureColumn(ctx context.Context, table, column, columnDef string) error {
	if s.driver == driverPostgres {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, column, columnDef)
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add %s.%s column: %w", table, column, err)
		}
		return nil
	}

	found, err := s.hasColumn(ctx, table, column)
	if err != nil || found {
		return err
	}

	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnDef)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}

	return nil
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("inspect %s schema: %w", table, err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("inspect %s columns: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("inspect %s columns: %w", table, err)
	}
	return false, nil
}
