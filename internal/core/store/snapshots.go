package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kosmostars/spacefeed/internal/core"
)

// Insert appends a raw payload snapshot for source and returns its id.
// fetchedAt is stored with millisecond precision; zero means now.
func (s *Store) Insert(ctx context.Context, source core.Source, payload []byte, fetchedAt time.Time) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(string(source)) == "" {
		return 0, errors.New("snapshot source is required")
	}
	if !json.Valid(payload) {
		return 0, errors.New("snapshot payload is not valid JSON")
	}
	if fetchedAt.IsZero() {
		fetchedAt = s.now()
	}

	var id int64
	row := s.DB.QueryRowContext(ctx, s.rebind(`
		INSERT INTO feed_snapshots (source, payload, fetched_at)
		VALUES (?, ?, ?)
		RETURNING id
	`), string(source), string(payload), fetchedAt.UnixMilli())
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

// Latest returns the most recent snapshot for source or ErrNotFound.
func (s *Store) Latest(ctx context.Context, source core.Source) (*core.Snapshot, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	row := s.DB.QueryRowContext(ctx, s.rebind(`
		SELECT id, source, payload, fetched_at
		FROM feed_snapshots
		WHERE source = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`), string(source))

	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch latest snapshot: %w", err)
	}
	return snapshot, nil
}

// ListRecent returns snapshots for source fetched at or after since, oldest first.
func (s *Store) ListRecent(ctx context.Context, source core.Source, since time.Time) ([]core.Snapshot, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, s.rebind(`
		SELECT id, source, payload, fetched_at
		FROM feed_snapshots
		WHERE source = ? AND fetched_at >= ?
		ORDER BY fetched_at ASC, id ASC
	`), string(source), since.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return collectSnapshots(rows)
}

// ListSnapshots returns the newest snapshots for source, newest first.
// An empty source lists every feed.
func (s *Store) ListSnapshots(ctx context.Context, source core.Source, limit int) ([]core.Snapshot, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, source, payload, fetched_at FROM feed_snapshots`
	args := []any{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, string(source))
	}
	query += ` ORDER BY fetched_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return collectSnapshots(rows)
}

// Prune deletes snapshots older than keepDays and returns the number removed.
// A non-positive keepDays keeps everything.
func (s *Store) Prune(ctx context.Context, keepDays int) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	if keepDays <= 0 {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -keepDays).UnixMilli()
	result, err := s.DB.ExecContext(ctx, s.rebind(`DELETE FROM feed_snapshots WHERE fetched_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*core.Snapshot, error) {
	var (
		id        int64
		source    string
		payload   string
		fetchedAt int64
	)
	if err := row.Scan(&id, &source, &payload, &fetchedAt); err != nil {
		return nil, err
	}
	return &core.Snapshot{
		ID:        id,
		Source:    core.Source(source),
		Payload:   json.RawMessage(payload),
		FetchedAt: time.UnixMilli(fetchedAt).UTC(),
	}, nil
}

func collectSnapshots(rows *sql.Rows) ([]core.Snapshot, error) {
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	snapshots := make([]core.Snapshot, 0)
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, *snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snapshots, nil
}
