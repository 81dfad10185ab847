package storage

import (
	"context"
	"fmt"
	"sync"

	"datacat/internal/schema"
)

// Config is the minimal configuration needed to open a store backend.
//
// Kind must match a registered backend kind ("postgres", "sqlite", "mongo").
// DSN is passed through to the backend factory; validation is
// backend-specific. Database names the logical database for backends that
// need one (Mongo).
type Config struct {
	Kind     string
	DSN      string
	Database string
}

// CatalogStore is the narrow CRUD surface both catalog variants implement.
//
// IMPORTANT: this interface is intentionally minimal and focused on what the
// catalog service needs. Each backend implements the semantics in its own
// idiomatic way (Postgres ILIKE, Mongo case-insensitive regex, etc).
type CatalogStore interface {
	// Kind reports which side of the relational|document split this store
	// serves. Exactly one store of each kind exists per process.
	Kind() schema.Storage

	// Insert persists a new catalog entry. The entry's timestamps must be
	// set by the caller; Insert writes them as given.
	Insert(ctx context.Context, e *Entry) error

	// Get returns the entry or ErrNotFound. Connectivity failures are
	// wrapped with ErrUnavailable.
	Get(ctx context.Context, id string) (*Entry, error)

	// List returns every entry matching the filters, unsorted and
	// unpaginated. Sorting and pagination happen after the two stores'
	// results are merged.
	List(ctx context.Context, f Filters) ([]*Entry, error)

	// Update applies the patch and returns the updated entry, or
	// ErrNotFound.
	Update(ctx context.Context, id string, p EntryPatch) (*Entry, error)

	// Delete removes the catalog entry. Deleting a nonexistent id returns
	// ErrNotFound, not a no-op.
	Delete(ctx context.Context, id string) error

	// Search matches keyword case-insensitively against name, description
	// and tags, returning at most limit entries.
	Search(ctx context.Context, keyword string, limit int) ([]*Entry, error)

	// Close releases backend resources. Call once at process shutdown.
	Close()
}

// RelationalStore extends the catalog CRUD with the data-plane operations of
// the relational path: per-dataset tables generated from a schema, flat-row
// inserts and queries.
type RelationalStore interface {
	CatalogStore

	// Execute runs a raw statement. It exists for operational tooling; the
	// service itself goes through the typed operations below.
	Execute(ctx context.Context, stmt string) error

	// EnsureEntity creates the per-dataset table for a generated schema.
	// Idempotent (create-if-not-exists semantics).
	EnsureEntity(ctx context.Context, g *schema.Generated) error

	// InsertRows bulk-inserts one batch of flat rows. Callers chunk;
	// a batch maps to a single statement.
	InsertRows(ctx context.Context, entity string, columns []string, rows [][]any) (int64, error)

	// QueryRows returns flat rows; the service unflattens them.
	QueryRows(ctx context.Context, q RowQuery) ([]map[string]any, error)

	// DropEntity drops the per-dataset table. Idempotent.
	DropEntity(ctx context.Context, entity string) error
}

// DocumentStore extends the catalog CRUD with the data-plane operations of
// the document path: per-dataset collections of nested documents.
type DocumentStore interface {
	CatalogStore

	// InsertDocuments bulk-inserts one batch of documents, already stamped
	// with the owning dataset id and import timestamp.
	InsertDocuments(ctx context.Context, datasetID string, docs []map[string]any) (int64, error)

	// FindDocuments returns nested documents with driver bookkeeping fields
	// stripped.
	FindDocuments(ctx context.Context, q DocumentQuery) ([]map[string]any, error)

	// DropDocuments drops the per-dataset collection. Idempotent.
	DropDocuments(ctx context.Context, datasetID string) error
}

// ---- backend factories (mirrors the registry used for relational kinds) ----

type relationalFactory func(ctx context.Context, cfg Config) (RelationalStore, error)
type documentFactory func(ctx context.Context, cfg Config) (DocumentStore, error)

var (
	factoryMu          sync.RWMutex
	relationalBackends = map[string]relationalFactory{}
	documentBackends   = map[string]documentFactory{}
)

// RegisterRelational registers a relational backend under a kind
// (e.g. "postgres", "sqlite"). Called from an init() in a backend package.
//
// Panics:
//   - If kind is empty or f is nil.
//   - If kind is already registered. Failing fast avoids ambiguous backend
//     selection.
func RegisterRelational(kind string, f relationalFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if kind == "" {
		panic("storage: RegisterRelational called with empty kind")
	}
	if f == nil {
		panic("storage: RegisterRelational called with nil factory")
	}
	if _, exists := relationalBackends[kind]; exists {
		panic(fmt.Sprintf("storage: relational factory already registered for kind=%q", kind))
	}
	relationalBackends[kind] = f
}

// RegisterDocument registers a document backend under a kind (e.g. "mongo").
// Same contract as RegisterRelational.
func RegisterDocument(kind string, f documentFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if kind == "" {
		panic("storage: RegisterDocument called with empty kind")
	}
	if f == nil {
		panic("storage: RegisterDocument called with nil factory")
	}
	if _, exists := documentBackends[kind]; exists {
		panic(fmt.Sprintf("storage: document factory already registered for kind=%q", kind))
	}
	documentBackends[kind] = f
}

// NewRelational opens the relational store for the configured kind.
//
// Connecting is an explicit step the caller awaits before constructing the
// catalog service; there is no lazy singleton behind this.
//
// Errors:
//   - If cfg.Kind is empty or unregistered.
//   - Whatever the backend factory returns.
func NewRelational(ctx context.Context, cfg Config) (RelationalStore, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing relational kind")
	}

	factoryMu.RLock()
	f := relationalBackends[cfg.Kind]
	factoryMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported relational kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// NewDocument opens the document store for the configured kind.
func NewDocument(ctx context.Context, cfg Config) (DocumentStore, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing document kind")
	}

	factoryMu.RLock()
	f := documentBackends[cfg.Kind]
	factoryMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported document kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
