package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"datacat/internal/schema"
	"datacat/internal/storage"
)

// Store implements storage.RelationalStore for SQLite, intended for
// embedded and development deployments.
//
// Key design points vs Postgres:
//   - SQLite has no TIMESTAMPTZ type; timestamps are stored as RFC3339Nano
//     strings for reliable round-trip behavior and easy debugging.
//   - LIKE is case-insensitive only for ASCII, so search lowercases both
//     sides explicitly.
//   - jsonb columns degrade to TEXT holding JSON.
type Store struct {
	db *sql.DB
}

const catalogTable = "datacat_datasets"

func init() {
	storage.RegisterRelational("sqlite", New)
}

// New opens the database, verifies connectivity, and ensures the catalog
// table exists.
func New(ctx context.Context, cfg storage.Config) (storage.RelationalStore, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if _, err := db.ExecContext(ctx, createCatalogTableSQL()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ensure catalog table: %w", err)
	}
	return s, nil
}

func (s *Store) Close() { _ = s.db.Close() }

// Kind implements storage.CatalogStore.
func (s *Store) Kind() schema.Storage { return schema.StorageRelational }

// Execute runs a raw statement.
func (s *Store) Execute(ctx context.Context, stmt string) error {
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

const entryColumns = `id, name, size, media_type, category, storage, record_count, dataset_schema, metadata, tags, description, created_at, updated_at`

func createCatalogTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS ` + catalogTable + ` (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		media_type TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		storage TEXT NOT NULL,
		record_count INTEGER NOT NULL DEFAULT 0,
		dataset_schema TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		tags TEXT NOT NULL DEFAULT '[]',
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
}

// Insert implements storage.CatalogStore.
func (s *Store) Insert(ctx context.Context, e *storage.Entry) error {
	var schemaJSON any
	if e.Schema != nil {
		b, err := json.Marshal(e.Schema)
		if err != nil {
			return fmt.Errorf("sqlite: marshal schema: %w", err)
		}
		schemaJSON = string(b)
	}
	metaJSON, err := json.Marshal(orEmptyMap(e.Metadata))
	if err != nil {
		return fmt.Errorf("sqlite: marshal metadata: %w", err)
	}
	tagsJSON, err := json.Marshal(orEmptySlice(e.Tags))
	if err != nil {
		return fmt.Errorf("sqlite: marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+catalogTable+` (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Size, e.MediaType, e.Category, string(e.Storage),
		e.RecordCount, schemaJSON, string(metaJSON), string(tagsJSON),
		e.Description, encodeTime(e.CreatedAt), encodeTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert catalog entry %s: %w", e.ID, err)
	}
	return nil
}

// Get implements storage.CatalogStore.
func (s *Store) Get(ctx context.Context, id string) (*storage.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM `+catalogTable+` WHERE id = ?`, id)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%w: sqlite: get %s: %v", storage.ErrUnavailable, id, err)
	}
	return e, nil
}

// List implements storage.CatalogStore.
func (s *Store) List(ctx context.Context, f storage.Filters) ([]*storage.Entry, error) {
	var (
		conds []string
		args  []any
	)
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.MediaType != "" {
		conds = append(conds, "media_type = ?")
		args = append(args, f.MediaType)
	}
	if f.Storage != "" {
		conds = append(conds, "storage = ?")
		args = append(args, string(f.Storage))
	}

	q := `SELECT ` + entryColumns + ` FROM ` + catalogTable
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite: list: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	out := []*storage.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Update implements storage.CatalogStore.
func (s *Store) Update(ctx context.Context, id string, p storage.EntryPatch) (*storage.Entry, error) {
	if p.Empty() {
		return nil, fmt.Errorf("sqlite: empty patch for %s", id)
	}

	var (
		sets []string
		args []any
	)
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *p.Description)
	}
	if p.Tags != nil {
		b, err := json.Marshal(p.Tags)
		if err != nil {
			return nil, fmt.Errorf("sqlite: marshal tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, string(b))
	}
	if p.Metadata != nil {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("sqlite: marshal metadata: %w", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(b))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, encodeTime(time.Now().UTC()))
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE `+catalogTable+` SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite: update %s: %v", storage.ErrUnavailable, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: update %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return nil, storage.ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete implements storage.CatalogStore.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+catalogTable+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: sqlite: delete %s: %v", storage.ErrUnavailable, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Search implements storage.CatalogStore. Lowercasing both sides keeps the
// match case-insensitive beyond SQLite's ASCII-only LIKE.
func (s *Store) Search(ctx context.Context, keyword string, limit int) ([]*storage.Entry, error) {
	if limit <= 0 {
		limit = 25
	}
	pattern := "%" + escapeLike(strings.ToLower(keyword)) + "%"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM `+catalogTable+`
		 WHERE lower(name) LIKE ? ESCAPE '\'
		    OR lower(description) LIKE ? ESCAPE '\'
		    OR lower(tags) LIKE ? ESCAPE '\'
		 LIMIT ?`,
		pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite: search: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	out := []*storage.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*storage.Entry, error) {
	var (
		e          storage.Entry
		storageStr string
		schemaJSON sql.NullString
		metaJSON   string
		tagsJSON   string
		createdAt  string
		updatedAt  string
	)

	if err := row.Scan(
		&e.ID, &e.Name, &e.Size, &e.MediaType, &e.Category, &storageStr,
		&e.RecordCount, &schemaJSON, &metaJSON, &tagsJSON, &e.Description,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	e.Storage = schema.Storage(storageStr)
	if schemaJSON.Valid && schemaJSON.String != "" {
		var g schema.Generated
		if err := json.Unmarshal([]byte(schemaJSON.String), &g); err != nil {
			return nil, fmt.Errorf("decode dataset_schema: %w", err)
		}
		e.Schema = &g
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}

	var err error
	if e.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if e.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &e, nil
}

// encodeTime / decodeTime keep timestamps round-trippable through TEXT
// affinity.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
