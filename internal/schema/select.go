package schema

import "datacat/internal/profile"

// Storage identifies which backing store technology owns a dataset.
// A dataset lives in exactly one store for its entire lifetime.
type Storage string

const (
	StorageRelational Storage = "relational"
	StorageDocument   Storage = "document"
)

// Valid reports whether s is one of the two supported storage kinds.
func (s Storage) Valid() bool {
	return s == StorageRelational || s == StorageDocument
}

// SelectBackend maps a type profile to a storage decision.
//
// The policy is a single predicate over the top-level fields: any nested
// field (object or array) forces the document store, everything else is
// tabular and goes relational. An empty profile defaults to relational.
//
// SelectBackend is total and side-effect-free so the decision can be
// reproduced later from stored metadata alone.
//
// Note: a field holding only arrays of primitives is treated the same as a
// field holding objects. That conflates "needs a structured column" with
// "needs a document store", and is kept intentionally to match the
// established ingest behavior.
func SelectBackend(p *profile.Profile) Storage {
	if p == nil {
		return StorageRelational
	}
	for _, f := range p.Fields {
		if f.Nested {
			return StorageDocument
		}
	}
	return StorageRelational
}
