package postgres

import (
	"context"
	"fmt"

	"datacat/internal/schema"
	"datacat/internal/storage"
)

// EnsureEntity creates the per-dataset table. Idempotent.
func (s *Store) EnsureEntity(ctx context.Context, g *schema.Generated) error {
	sql, err := buildCreateEntitySQL(g)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("postgres: create entity %s: %w", g.EntityName, err)
	}
	return nil
}

// InsertRows bulk-inserts one batch of flat rows and reports how many the
// server acknowledged. Chunking into batches is the caller's job; one call
// is one statement.
func (s *Store) InsertRows(ctx context.Context, entity string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := validateEntityName(entity); err != nil {
		return 0, err
	}

	sql, args, err := buildInsertSQL(entity, columns, rows)
	if err != nil {
		return 0, err
	}

	cmd, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert into %s: %w", entity, err)
	}
	return cmd.RowsAffected(), nil
}

// QueryRows returns flat rows as column-name keyed maps.
func (s *Store) QueryRows(ctx context.Context, q storage.RowQuery) ([]map[string]any, error) {
	sql, args, err := buildRowQuerySQL(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query %s: %w", q.Entity, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: read row from %s: %w", q.Entity, err)
		}
		rec := make(map[string]any, len(fields))
		for i, fd := range fields {
			rec[string(fd.Name)] = normalizeValue(values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows from %s: %w", q.Entity, err)
	}
	return out, nil
}

// DropEntity drops the per-dataset table. Idempotent.
func (s *Store) DropEntity(ctx context.Context, entity string) error {
	if err := validateEntityName(entity); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgIdent(entity)); err != nil {
		return fmt.Errorf("postgres: drop entity %s: %w", entity, err)
	}
	return nil
}

// normalizeValue maps driver-specific scan types back to plain JSON-ish Go
// values. TEXT can scan as []byte depending on the wire format; the unflatten
// transform expects strings.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return v
	}
}
