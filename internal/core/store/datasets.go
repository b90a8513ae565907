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

// DatasetQuery selects a page of the catalog.
type DatasetQuery struct {
	Limit  int
	Offset int
	Search string
}

// Upsert writes a catalog record keyed by dataset id. An existing row keeps its
// id and inserted_at; every other column takes the new values.
func (s *Store) Upsert(ctx context.Context, record core.DatasetRecord) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	datasetID := strings.TrimSpace(record.DatasetID)
	if datasetID == "" {
		return 0, errors.New("dataset id is required")
	}

	raw := record.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if !json.Valid(raw) {
		return 0, errors.New("dataset raw payload is not valid JSON")
	}

	var updatedAt sql.NullInt64
	if record.UpdatedAt != nil {
		updatedAt = sql.NullInt64{Int64: record.UpdatedAt.UTC().UnixMilli(), Valid: true}
	}

	var id int64
	row := s.DB.QueryRowContext(ctx, s.rebind(`
		INSERT INTO datasets (dataset_id, title, organism, study_type, status, updated_at, raw, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dataset_id) DO UPDATE SET
			title = excluded.title,
			organism = excluded.organism,
			study_type = excluded.study_type,
			status = excluded.status,
			updated_at = excluded.updated_at,
			raw = excluded.raw
		RETURNING id
	`),
		datasetID,
		nullString(record.Title),
		nullString(record.Organism),
		nullString(record.StudyType),
		nullString(record.Status),
		updatedAt,
		string(raw),
		s.now().UnixMilli(),
	)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert dataset %s: %w", datasetID, err)
	}
	return id, nil
}

// ListDatasets returns a catalog page ordered by updated_at, newest first,
// with undated records last. Search matches title, organism or dataset id
// case-insensitively.
func (s *Store) ListDatasets(ctx context.Context, q DatasetQuery) ([]core.DatasetRecord, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	where, args := searchClause(q.Search)
	query := `
		SELECT id, dataset_id, title, organism, study_type, status, updated_at, raw, inserted_at
		FROM datasets` + where + `
		ORDER BY (updated_at IS NULL), updated_at DESC, id DESC
		LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	records := make([]core.DatasetRecord, 0)
	for rows.Next() {
		var (
			rec        core.DatasetRecord
			title      sql.NullString
			organism   sql.NullString
			studyType  sql.NullString
			status     sql.NullString
			updatedAt  sql.NullInt64
			raw        string
			insertedAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.DatasetID, &title, &organism, &studyType, &status, &updatedAt, &raw, &insertedAt); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		rec.Title = title.String
		rec.Organism = organism.String
		rec.StudyType = studyType.String
		rec.Status = status.String
		if updatedAt.Valid {
			ts := time.UnixMilli(updatedAt.Int64).UTC()
			rec.UpdatedAt = &ts
		}
		rec.Raw = json.RawMessage(raw)
		rec.InsertedAt = time.UnixMilli(insertedAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datasets: %w", err)
	}
	return records, nil
}

// CountDatasets counts catalog records matching search.
func (s *Store) CountDatasets(ctx context.Context, search string) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	where, args := searchClause(search)
	var count int64
	if err := s.DB.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM datasets`+where), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count datasets: %w", err)
	}
	return count, nil
}

func searchClause(search string) (string, []any) {
	search = strings.TrimSpace(search)
	if search == "" {
		return "", nil
	}
	pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
	clause := ` WHERE LOWER(COALESCE(title, '')) LIKE ? ESCAPE '\'` +
		` OR LOWER(COALESCE(organism, '')) LIKE ? ESCAPE '\'` +
		` OR LOWER(dataset_id) LIKE ? ESCAPE '\'`
	return clause, []any{pattern, pattern, pattern}
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	return sql.NullString{String: value, Valid: value != ""}
}
