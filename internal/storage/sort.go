package storage

import (
	"sort"
	"strings"
)

// SortEntries orders a merged listing in place by the requested key.
//
// The two catalog stores cannot produce a shared ordering themselves, so the
// merged set is sorted here before pagination. Unknown sort keys fall back
// to created_at. The sort is stable so entries that compare equal keep their
// store-of-origin order across calls.
func SortEntries(entries []*Entry, p Page) {
	less := lessFunc(p.SortBy)
	sort.SliceStable(entries, func(i, j int) bool {
		if p.Descending {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
}

func lessFunc(sortBy string) func(a, b *Entry) bool {
	switch strings.ToLower(strings.TrimSpace(sortBy)) {
	case "name":
		return func(a, b *Entry) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case "size":
		return func(a, b *Entry) bool { return a.Size < b.Size }
	case "record_count":
		return func(a, b *Entry) bool { return a.RecordCount < b.RecordCount }
	case "updated_at":
		return func(a, b *Entry) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	default:
		return func(a, b *Entry) bool { return a.CreatedAt.Before(b.CreatedAt) }
	}
}

// Paginate slices a sorted listing. Out-of-range offsets yield an empty,
// non-nil slice so callers can serialize the result directly.
func Paginate(entries []*Entry, p Page) []*Entry {
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []*Entry{}
	}

	end := len(entries)
	if p.Limit > 0 && offset+p.Limit < end {
		end = offset + p.Limit
	}
	return entries[offset:end]
}

// Match reports whether an entry satisfies the filters. Backends filter
// store-side where they can; this helper keeps the semantics identical for
// in-memory fakes and for defensive re-checks.
func Match(e *Entry, f Filters) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.MediaType != "" && e.MediaType != f.MediaType {
		return false
	}
	if f.Storage != "" && e.Storage != f.Storage {
		return false
	}
	return true
}
