// Package schema turns a field profile into a storage decision, a relational
// column specification, and a JSON-Schema-shaped validation document.
//
// The generated schema is reference metadata: it is produced for every
// dataset regardless of where the data ends up, so that document-backed
// datasets still carry a structural description.
package schema

import (
	"fmt"
	"path/filepath"
	"strings"

	"datacat/internal/profile"
)

// Abstract relational column types. Backends translate these into their own
// dialect (e.g. "serial" becomes BIGSERIAL on Postgres and INTEGER PRIMARY
// KEY on SQLite).
const (
	TypeSerial      = "serial"
	TypeTimestampTZ = "timestamptz"
	TypeText        = "text"
	TypeDouble      = "double precision"
	TypeBoolean     = "boolean"
	TypeJSON        = "jsonb"
)

// Reserved synthetic columns prepended to every generated entity. The
// leading underscore keeps them out of the way of profiled field names;
// the row transform drops them on the way back out.
const (
	ColumnID        = "_id"
	ColumnCreatedAt = "_created_at"
)

// entityNamespace prefixes every generated entity name so generated tables
// can never collide with system tables (including the catalog itself).
const entityNamespace = "ds"

// idPrefixLen is how many identifier characters are appended to an entity
// name to keep datasets with the same human name apart.
const idPrefixLen = 8

// ErrFieldCollision is returned when a profiled field name collides with a
// reserved synthetic column. The caller surfaces this as a hard schema
// generation failure; fields are never silently renamed.
var ErrFieldCollision = fmt.Errorf("schema: field collides with a reserved column")

// Column is one generated relational column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Validation is a JSON-Schema-shaped structural description. It mirrors the
// column mapping over the same profile: nested objects recurse, arrays are
// "array of object" without deep-typed items (sampling is approximate),
// non-nullable fields are required.
type Validation struct {
	Type       string                 `json:"type"`
	Properties map[string]*Validation `json:"properties,omitempty"`
	Items      *Validation            `json:"items,omitempty"`
	Required   []string               `json:"required,omitempty"`
}

// Generated is the full output of schema generation for one dataset.
type Generated struct {
	EntityName string      `json:"entity_name"`
	Columns    []Column    `json:"columns"`
	Validation *Validation `json:"validation"`
}

// Generate builds the relational column spec and validation schema for a
// dataset from its profile.
//
// Entity naming is deterministic: the human name is stripped of its
// extension, lowercased, sanitized to [a-z0-9_], then namespaced and joined
// with a fixed-length prefix of the dataset identifier.
//
// Errors:
//   - ErrFieldCollision (wrapped with the field name) if a profiled field
//     matches a reserved synthetic column.
func Generate(name, datasetID string, p *profile.Profile) (*Generated, error) {
	g := &Generated{
		EntityName: EntityName(name, datasetID),
		Columns: []Column{
			{Name: ColumnID, Type: TypeSerial},
			{Name: ColumnCreatedAt, Type: TypeTimestampTZ},
		},
		Validation: &Validation{
			Type:       "object",
			Properties: map[string]*Validation{},
		},
	}
	if p == nil {
		return g, nil
	}

	for _, fieldName := range p.Order {
		if fieldName == ColumnID || fieldName == ColumnCreatedAt {
			return nil, fmt.Errorf("%w: %q", ErrFieldCollision, fieldName)
		}
		f := p.Fields[fieldName]

		g.Columns = append(g.Columns, Column{
			Name:     fieldName,
			Type:     columnType(f),
			Nullable: f.Nullable,
		})
		g.Validation.Properties[fieldName] = validationFor(f)
		if !f.Nullable {
			g.Validation.Required = append(g.Validation.Required, fieldName)
		}
	}

	return g, nil
}

// EntityName derives the namespaced entity name for a dataset.
func EntityName(name, datasetID string) string {
	base := sanitizeIdent(strings.TrimSuffix(name, filepath.Ext(name)))
	if base == "" {
		base = "dataset"
	}

	id := sanitizeIdent(datasetID)
	if len(id) > idPrefixLen {
		id = id[:idPrefixLen]
	}
	if id == "" {
		return entityNamespace + "_" + base
	}
	return entityNamespace + "_" + base + "_" + id
}

// sanitizeIdent lowercases s and replaces anything outside [a-z0-9_] with
// '_'. Replacement only: leading and trailing underscores are kept so the
// mapping stays predictable from the input.
func sanitizeIdent(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// columnType maps one profiled field to an abstract relational type.
//
// Rules, in priority order:
//   - nested (object or array) -> JSON-capable column
//   - multiple primitive kinds -> widen: string subsumes everything, then
//     number, then fall back to structured
//   - single kind -> 1:1 mapping
func columnType(f *profile.Field) string {
	if f.Nested {
		return TypeJSON
	}

	if len(f.Types) > 1 {
		for _, k := range f.Types {
			if k == profile.KindString {
				return TypeText
			}
		}
		for _, k := range f.Types {
			if k == profile.KindNumber {
				return TypeDouble
			}
		}
		return TypeJSON
	}

	if len(f.Types) == 0 {
		// Only nulls observed; text is the safest landing spot.
		return TypeText
	}

	switch f.Types[0] {
	case profile.KindString:
		return TypeText
	case profile.KindNumber:
		return TypeDouble
	case profile.KindBoolean:
		return TypeBoolean
	default:
		return TypeJSON
	}
}

// validationFor mirrors columnType into the structural representation.
func validationFor(f *profile.Field) *Validation {
	// Arrays win over objects when both were observed: the array shape is the
	// one that cannot be described property-by-property.
	hasArray := false
	hasObject := false
	for _, k := range f.Types {
		if k == profile.KindArray {
			hasArray = true
		}
		if k == profile.KindObject {
			hasObject = true
		}
	}

	if hasArray {
		return &Validation{Type: "array", Items: &Validation{Type: "object"}}
	}

	if hasObject {
		v := &Validation{Type: "object", Properties: map[string]*Validation{}}
		if f.NestedFields != nil {
			for _, name := range f.NestedFields.Order {
				nf := f.NestedFields.Fields[name]
				v.Properties[name] = validationFor(nf)
				if !nf.Nullable {
					v.Required = append(v.Required, name)
				}
			}
		}
		return v
	}

	if len(f.Types) > 1 {
		for _, k := range f.Types {
			if k == profile.KindString {
				return &Validation{Type: "string"}
			}
		}
		return &Validation{Type: "number"}
	}
	if len(f.Types) == 0 {
		return &Validation{Type: "string"}
	}

	switch f.Types[0] {
	case profile.KindNumber:
		return &Validation{Type: "number"}
	case profile.KindBoolean:
		return &Validation{Type: "boolean"}
	default:
		return &Validation{Type: "string"}
	}
}
