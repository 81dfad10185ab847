package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"datacat/internal/schema"
	"datacat/internal/storage"
)

/*
Store implements storage.RelationalStore for Postgres.

It provides:
  - The relational half of the dataset catalog (one row per dataset,
    generated schema serialized into a jsonb column)
  - The relational data plane (per-dataset tables generated from a schema,
    chunk-friendly bulk inserts, filtered row queries)

Search and update semantics match the Mongo implementation.
*/
type Store struct {
	pool *pgxpool.Pool
}

// catalogTable holds one row per relational-backed dataset. Generated entity
// names carry the "ds_" namespace so they can never collide with it.
const catalogTable = "datacat_datasets"

// New connects, verifies the connection, and ensures the catalog table
// exists. Connecting is explicit: callers await New before wiring the
// catalog service, there is no lazy first-use initialization.
func New(ctx context.Context, cfg storage.Config) (storage.RelationalStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{pool: pool}
	if _, err := pool.Exec(ctx, createCatalogTableSQL()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ensure catalog table: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Kind implements storage.CatalogStore.
func (s *Store) Kind() schema.Storage {
	return schema.StorageRelational
}

// Execute runs a raw statement.
func (s *Store) Execute(ctx context.Context, stmt string) error {
	_, err := s.pool.Exec(ctx, stmt)
	return err
}

const entryColumns = `id, name, size, media_type, category, storage, record_count, dataset_schema, metadata, tags, description, created_at, updated_at`

// Insert implements storage.CatalogStore.
func (s *Store) Insert(ctx context.Context, e *storage.Entry) error {
	schemaJSON, err := marshalNullable(e.Schema)
	if err != nil {
		return fmt.Errorf("postgres: marshal schema: %w", err)
	}
	metaJSON, err := json.Marshal(orEmptyMap(e.Metadata))
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata: %w", err)
	}
	tagsJSON, err := json.Marshal(orEmptySlice(e.Tags))
	if err != nil {
		return fmt.Errorf("postgres: marshal tags: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+catalogTable+` (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.Name, e.Size, e.MediaType, e.Category, string(e.Storage),
		e.RecordCount, schemaJSON, metaJSON, tagsJSON, e.Description,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert catalog entry %s: %w", e.ID, err)
	}
	return nil
}

// Get implements storage.CatalogStore.
//
// Errors:
//   - storage.ErrNotFound when no row matches.
//   - storage.ErrUnavailable (wrapped) on any other failure, so the service
//     can continue probing the other store.
func (s *Store) Get(ctx context.Context, id string) (*storage.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM `+catalogTable+` WHERE id = $1`, id)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%w: postgres: get %s: %v", storage.ErrUnavailable, id, err)
	}
	return e, nil
}

// List implements storage.CatalogStore. Filtering happens store-side;
// sorting and pagination happen after the merge in the catalog service.
func (s *Store) List(ctx context.Context, f storage.Filters) ([]*storage.Entry, error) {
	sql, args := buildListSQL(f)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: list: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// Update implements storage.CatalogStore.
func (s *Store) Update(ctx context.Context, id string, p storage.EntryPatch) (*storage.Entry, error) {
	sql, args, err := buildUpdateSQL(id, p, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, sql, args...)
	e, scanErr := scanEntry(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%w: postgres: update %s: %v", storage.ErrUnavailable, id, scanErr)
	}
	return e, nil
}

// Delete implements storage.CatalogStore. Deleting a nonexistent id is an
// error, not a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM `+catalogTable+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: postgres: delete %s: %v", storage.ErrUnavailable, id, err)
	}
	if cmd.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Search implements storage.CatalogStore with case-insensitive substring
// matching over name, description and the serialized tags.
func (s *Store) Search(ctx context.Context, keyword string, limit int) ([]*storage.Entry, error) {
	if limit <= 0 {
		limit = 25
	}
	pattern := "%" + escapeLike(keyword) + "%"

	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM `+catalogTable+`
		 WHERE name ILIKE $1 ESCAPE '\'
		    OR description ILIKE $1 ESCAPE '\'
		    OR tags::text ILIKE $1 ESCAPE '\'
		 LIMIT $2`,
		pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: search: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// rowScanner lets scanEntry serve both QueryRow and Query results.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*storage.Entry, error) {
	var (
		e          storage.Entry
		storageStr string
		schemaJSON []byte
		metaJSON   []byte
		tagsJSON   []byte
	)

	if err := row.Scan(
		&e.ID, &e.Name, &e.Size, &e.MediaType, &e.Category, &storageStr,
		&e.RecordCount, &schemaJSON, &metaJSON, &tagsJSON, &e.Description,
		&e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	e.Storage = schema.Storage(storageStr)
	if len(schemaJSON) > 0 {
		var g schema.Generated
		if err := json.Unmarshal(schemaJSON, &g); err != nil {
			return nil, fmt.Errorf("decode dataset_schema: %w", err)
		}
		e.Schema = &g
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &e.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]*storage.Entry, error) {
	out := []*storage.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: postgres: rows: %v", storage.ErrUnavailable, err)
	}
	return out, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *schema.Generated:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
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
