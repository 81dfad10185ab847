package sqlite

import (
	"context"
	"fmt"
	"strings"

	"datacat/internal/schema"
	"datacat/internal/storage"
)

// EnsureEntity creates the per-dataset table. Idempotent.
func (s *Store) EnsureEntity(ctx context.Context, g *schema.Generated) error {
	stmt, err := buildCreateEntitySQL(g)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: create entity %s: %w", g.EntityName, err)
	}
	return nil
}

// InsertRows bulk-inserts one batch of flat rows. Chunking is the caller's
// job; one call is one statement.
func (s *Store) InsertRows(ctx context.Context, entity string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := validateEntityName(entity); err != nil {
		return 0, err
	}

	stmt, args, err := buildInsertSQL(entity, columns, rows)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert into %s: %w", entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert into %s: rows affected: %w", entity, err)
	}
	return n, nil
}

// QueryRows returns flat rows as column-name keyed maps.
func (s *Store) QueryRows(ctx context.Context, q storage.RowQuery) ([]map[string]any, error) {
	stmt, args, err := buildRowQuerySQL(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query %s: %w", q.Entity, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlite: columns of %s: %w", q.Entity, err)
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlite: read row from %s: %w", q.Entity, err)
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			rec[c] = normalizeValue(values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows from %s: %w", q.Entity, err)
	}
	return out, nil
}

// DropEntity drops the per-dataset table. Idempotent.
func (s *Store) DropEntity(ctx context.Context, entity string) error {
	if err := validateEntityName(entity); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(entity)); err != nil {
		return fmt.Errorf("sqlite: drop entity %s: %w", entity, err)
	}
	return nil
}

// normalizeValue maps driver scan types back to plain JSON-ish Go values.
// SQLite has no boolean type, so values written as booleans come back as
// int64; numbers written as JSON float64 may come back as int64 when whole.
// Both are acceptable numeric coercions for retrieval.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}

// buildCreateEntitySQL translates a generated schema into CREATE TABLE DDL.
//
// Abstract column types map to SQLite as:
//
//	serial           -> INTEGER PRIMARY KEY AUTOINCREMENT
//	timestamptz      -> TEXT NOT NULL DEFAULT (datetime('now'))
//	text             -> TEXT
//	double precision -> REAL
//	boolean          -> INTEGER
//	jsonb            -> TEXT
func buildCreateEntitySQL(g *schema.Generated) (string, error) {
	if g == nil || strings.TrimSpace(g.EntityName) == "" {
		return "", fmt.Errorf("sqlite: entity name is empty")
	}
	if err := validateEntityName(g.EntityName); err != nil {
		return "", err
	}

	cols := make([]string, 0, len(g.Columns))
	for _, c := range g.Columns {
		def, err := buildEntityColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("sqlite: table %s: %w", g.EntityName, err)
		}
		cols = append(cols, def)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("sqlite: table %s: no columns", g.EntityName)
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`,
		sqlIdent(g.EntityName), strings.Join(cols, ", ")), nil
}

func buildEntityColumnDef(c schema.Column) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column name must be set")
	}

	var b strings.Builder
	b.WriteString(sqlIdent(name))

	switch c.Type {
	case schema.TypeSerial:
		b.WriteString(" INTEGER PRIMARY KEY AUTOINCREMENT")
		return b.String(), nil
	case schema.TypeTimestampTZ:
		b.WriteString(" TEXT NOT NULL DEFAULT (datetime('now'))")
		return b.String(), nil
	case schema.TypeText:
		b.WriteString(" TEXT")
	case schema.TypeDouble:
		b.WriteString(" REAL")
	case schema.TypeBoolean:
		b.WriteString(" INTEGER")
	case schema.TypeJSON:
		b.WriteString(" TEXT")
	default:
		return "", fmt.Errorf("unsupported column type %q", c.Type)
	}

	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	return b.String(), nil
}

// buildInsertSQL constructs a single multi-row INSERT with ? placeholders.
func buildInsertSQL(entity string, columns []string, rows [][]any) (string, []any, error) {
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("sqlite: insert into %s: no columns", entity)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(entity))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("sqlite: insert into %s: row %d has %d values, want %d",
				entity, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, row[j])
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args, nil
}

// buildRowQuerySQL renders a filtered, projected, paginated row selection.
func buildRowQuerySQL(q storage.RowQuery) (string, []any, error) {
	if err := validateEntityName(q.Entity); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if len(q.Fields) == 0 {
		b.WriteString("*")
	} else {
		for i, f := range q.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(sqlIdent(f))
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(sqlIdent(q.Entity))

	var args []any
	if len(q.Filter) > 0 {
		b.WriteString(" WHERE ")
		keys := sortedKeys(q.Filter)
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString(sqlIdent(k))
			b.WriteString(" = ?")
			args = append(args, q.Filter[k])
		}
	}

	order := q.OrderBy
	if order == "" {
		order = schema.ColumnID
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(sqlIdent(order))

	// SQLite only accepts OFFSET after a LIMIT clause; LIMIT -1 means
	// unlimited.
	switch {
	case q.Limit > 0:
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	case q.Offset > 0:
		b.WriteString(" LIMIT -1")
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, q.Offset)
	}

	return b.String(), args, nil
}

// sqlIdent quotes an identifier for SQLite.
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// validateEntityName guards against interpolating anything that did not come
// out of the schema generator's sanitizer.
func validateEntityName(name string) error {
	if !strings.HasPrefix(name, "ds_") {
		return fmt.Errorf("sqlite: entity %q lacks the generated namespace", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
		default:
			return fmt.Errorf("sqlite: entity %q contains invalid character %q", name, r)
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
