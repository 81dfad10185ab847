// The catalog entry and query types live here so backend packages can import
// them without circular deps (backends implement the interfaces declared in
// this package).
package storage

import (
	"errors"
	"time"

	"datacat/internal/schema"
)

// Entry is the permanent catalog record describing one ingested dataset.
//
// Lifecycle:
//   - created once at ingest time; Storage and the generated entity name are
//     immutable thereafter
//   - mutated only through Update (tags/description/metadata)
//   - destroyed by Delete, which also drops the underlying data container
//
// Ownership invariant: an Entry lives in exactly one of the two catalog
// stores, determined by its own Storage field. It is never present in both.
type Entry struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Size        int64             `json:"size"`
	MediaType   string            `json:"media_type"`
	Category    string            `json:"category"`
	Storage     schema.Storage    `json:"storage"`
	RecordCount int64             `json:"record_count"`
	Schema      *schema.Generated `json:"schema,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Description string            `json:"description"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// EntryPatch is a partial update applied to an existing entry. Nil fields
// are left untouched.
type EntryPatch struct {
	Description *string        `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p EntryPatch) Empty() bool {
	return p.Description == nil && p.Tags == nil && p.Metadata == nil
}

// Filters narrows a catalog listing. Zero values match everything.
type Filters struct {
	Category  string         `json:"category,omitempty"`
	MediaType string         `json:"media_type,omitempty"`
	Storage   schema.Storage `json:"storage,omitempty"`
}

// Page describes sorting and pagination over a merged listing. The merge is
// performed by the catalog service; stores return their full filtered sets.
type Page struct {
	SortBy     string `json:"sort_by,omitempty"` // created_at (default) | name | size | record_count
	Descending bool   `json:"descending,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// RowQuery selects flat rows from a generated relational entity.
type RowQuery struct {
	Entity string
	// Filter is a conjunction of column = value equality predicates.
	Filter map[string]any
	// Fields projects specific columns; empty selects everything.
	Fields  []string
	OrderBy string
	Limit   int
	Offset  int
}

// DocumentQuery selects documents from a per-dataset collection.
type DocumentQuery struct {
	DatasetID string
	Filter    map[string]any
	Fields    []string
	SortBy    string
	Limit     int
	Offset    int
}

var (
	// ErrNotFound is returned when an id does not exist in the probed store.
	ErrNotFound = errors.New("storage: dataset not found")

	// ErrUnavailable wraps connectivity failures so callers can distinguish
	// "not in this store" from "this store is down".
	ErrUnavailable = errors.New("storage: store unavailable")
)
