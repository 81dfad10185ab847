package postgres

import (
	"fmt"
	"strings"
	"time"

	"datacat/internal/schema"
	"datacat/internal/storage"
)

// The SQL builders in this file are pure and deterministic so correctness
// (placeholder numbering, DDL type translation, LIKE escaping) can be unit
// tested without a database.

// pgIdent quotes an identifier for Postgres.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// escapeLike escapes LIKE metacharacters so a user keyword is matched
// literally inside the %...% pattern.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func createCatalogTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS ` + catalogTable + ` (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		size BIGINT NOT NULL DEFAULT 0,
		media_type TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		storage TEXT NOT NULL,
		record_count BIGINT NOT NULL DEFAULT 0,
		dataset_schema JSONB,
		metadata JSONB NOT NULL DEFAULT '{}',
		tags JSONB NOT NULL DEFAULT '[]',
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`
}

// buildListSQL renders the filtered listing query.
func buildListSQL(f storage.Filters) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + entryColumns + ` FROM ` + catalogTable)

	var (
		conds []string
		args  []any
	)
	add := func(col string, v string) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if f.Category != "" {
		add("category", f.Category)
	}
	if f.MediaType != "" {
		add("media_type", f.MediaType)
	}
	if f.Storage != "" {
		add("storage", string(f.Storage))
	}

	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	return b.String(), args
}

// buildUpdateSQL renders the partial update. Returns an error for an empty
// patch so the caller does not issue a no-op UPDATE.
func buildUpdateSQL(id string, p storage.EntryPatch, now time.Time) (string, []any, error) {
	if p.Empty() {
		return "", nil, fmt.Errorf("postgres: empty patch for %s", id)
	}

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Description != nil {
		set("description", *p.Description)
	}
	if p.Tags != nil {
		set("tags", p.Tags)
	}
	if p.Metadata != nil {
		set("metadata", p.Metadata)
	}
	set("updated_at", now)

	args = append(args, id)
	sql := fmt.Sprintf(
		`UPDATE %s SET %s WHERE id = $%d RETURNING %s`,
		catalogTable, strings.Join(sets, ", "), len(args), entryColumns,
	)
	return sql, args, nil
}

// buildCreateEntitySQL translates a generated schema into CREATE TABLE DDL.
//
// Abstract column types map to Postgres as:
//
//	serial           -> BIGSERIAL PRIMARY KEY
//	timestamptz      -> TIMESTAMPTZ NOT NULL DEFAULT now()
//	text             -> TEXT
//	double precision -> DOUBLE PRECISION
//	boolean          -> BOOLEAN
//	jsonb            -> JSONB
//
// Profiled columns get NOT NULL unless the profile marked them nullable.
func buildCreateEntitySQL(g *schema.Generated) (string, error) {
	if g == nil || strings.TrimSpace(g.EntityName) == "" {
		return "", fmt.Errorf("postgres: entity name is empty")
	}
	if err := validateEntityName(g.EntityName); err != nil {
		return "", err
	}

	cols := make([]string, 0, len(g.Columns))
	for _, c := range g.Columns {
		def, err := buildEntityColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("postgres: table %s: %w", g.EntityName, err)
		}
		cols = append(cols, def)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("postgres: table %s: no columns", g.EntityName)
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`,
		pgIdent(g.EntityName), strings.Join(cols, ", ")), nil
}

func buildEntityColumnDef(c schema.Column) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column name must be set")
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))

	switch c.Type {
	case schema.TypeSerial:
		b.WriteString(" BIGSERIAL PRIMARY KEY")
		return b.String(), nil
	case schema.TypeTimestampTZ:
		b.WriteString(" TIMESTAMPTZ NOT NULL DEFAULT now()")
		return b.String(), nil
	case schema.TypeText:
		b.WriteString(" TEXT")
	case schema.TypeDouble:
		b.WriteString(" DOUBLE PRECISION")
	case schema.TypeBoolean:
		b.WriteString(" BOOLEAN")
	case schema.TypeJSON:
		b.WriteString(" JSONB")
	default:
		return "", fmt.Errorf("unsupported column type %q", c.Type)
	}

	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	return b.String(), nil
}

// buildInsertSQL constructs a single multi-row INSERT and its args.
//
// Constraints:
//   - columns must be non-empty.
//   - every row must have the same length as columns.
//
// Batching happens upstream; one call renders one statement, keeping the
// parameter count bounded by the caller's batch size.
func buildInsertSQL(entity string, columns []string, rows [][]any) (string, []any, error) {
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("postgres: insert into %s: no columns", entity)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(entity))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("postgres: insert into %s: row %d has %d values, want %d",
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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
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
			b.WriteString(pgIdent(f))
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(pgIdent(q.Entity))

	var args []any
	if len(q.Filter) > 0 {
		b.WriteString(" WHERE ")
		// Deterministic predicate order for testability.
		keys := sortedKeys(q.Filter)
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" AND ")
			}
			args = append(args, q.Filter[k])
			fmt.Fprintf(&b, "%s = $%d", pgIdent(k), len(args))
		}
	}

	order := q.OrderBy
	if order == "" {
		order = schema.ColumnID
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(pgIdent(order))

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	return b.String(), args, nil
}

// validateEntityName guards against interpolating anything that did not come
// out of the schema generator's sanitizer.
func validateEntityName(name string) error {
	if !strings.HasPrefix(name, "ds_") {
		return fmt.Errorf("postgres: entity %q lacks the generated namespace", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
		default:
			return fmt.Errorf("postgres: entity %q contains invalid character %q", name, r)
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort; filters are tiny
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
