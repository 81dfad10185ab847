// Package profile implements bounded-sample field profiling for parsed JSON
// records.
//
// The profile package is responsible for:
//   - Accumulating the distinct primitive kinds observed per field
//   - Tracking nullability (explicit nulls and missing keys)
//   - Recursively profiling nested object values
//
// Design constraints:
//   - Profiling is pure and deterministic: the same sample produces the same
//     profile regardless of record order.
//   - Profiles are built from a bounded sample, never the full dataset, so
//     downstream consumers must treat them as approximate.
//   - A sample entry that is not a JSON object is skipped, never an error.
package profile

import (
	"encoding/json"
	"sort"
)

// Kind is a primitive JSON kind observed for a field value.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// MaxDepth bounds recursion into nested objects. JSON itself cannot be
// cyclic, but adversarially deep documents must not blow the stack.
// Objects below this depth are recorded as KindObject without nested fields.
const MaxDepth = 32

// DefaultSampleSize is the number of leading records profiled when the
// caller does not choose a bound.
const DefaultSampleSize = 100

// Field is the inferred summary for a single field name.
type Field struct {
	// Types holds the distinct primitive kinds observed, in a canonical
	// sorted order so profiles compare stably.
	Types []Kind `json:"types"`

	// Nullable is true if any sampled record had a null value for the field,
	// or omitted the field entirely.
	Nullable bool `json:"nullable"`

	// Nested is true iff any observed value was an object or an array.
	Nested bool `json:"nested"`

	// NestedFields is populated only when object values were observed.
	// Array element types are intentionally not profiled (bounded effort).
	NestedFields *Profile `json:"nested_fields,omitempty"`
}

// Profile summarizes every field seen across a sample.
//
// Order records field names in first-observed order so that schema
// generation is order-preserving (map iteration alone is not).
type Profile struct {
	Fields map[string]*Field `json:"fields"`
	Order  []string          `json:"order"`
}

// Has reports whether the field name was observed.
func (p *Profile) Has(name string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Fields[name]
	return ok
}

// Empty reports whether no fields were observed (empty sample, or a sample
// containing no objects).
func (p *Profile) Empty() bool {
	return p == nil || len(p.Fields) == 0
}

// Infer profiles a bounded sample of parsed JSON records.
//
// Behavior:
//   - Entries that are not objects (map[string]any) are skipped.
//   - null values and missing keys mark a field Nullable.
//   - Arrays contribute KindArray and set Nested; their elements are not
//     deep-typed.
//   - Object values contribute KindObject, set Nested, and are profiled
//     recursively into NestedFields.
//
// Infer never fails; the worst case is an empty profile.
func Infer(sample []any) *Profile {
	objs := make([]map[string]any, 0, len(sample))
	for _, rec := range sample {
		if m, ok := rec.(map[string]any); ok {
			objs = append(objs, m)
		}
	}
	return inferObjects(objs, 0)
}

// field accumulation state, internal to one Infer run.
type fieldAcc struct {
	kinds    map[Kind]bool
	nullable bool
	nested   bool
	seen     int
	objects  []map[string]any
}

func inferObjects(objs []map[string]any, depth int) *Profile {
	p := &Profile{Fields: map[string]*Field{}}
	if len(objs) == 0 {
		return p
	}

	accs := map[string]*fieldAcc{}
	for _, obj := range objs {
		// Deterministic field discovery order within a record.
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			acc := accs[k]
			if acc == nil {
				acc = &fieldAcc{kinds: map[Kind]bool{}}
				accs[k] = acc
				p.Order = append(p.Order, k)
			}
			acc.seen++
			observe(acc, obj[k])
		}
	}

	for name, acc := range accs {
		f := &Field{
			Nullable: acc.nullable || acc.seen < len(objs),
			Nested:   acc.nested,
		}
		for k := range acc.kinds {
			f.Types = append(f.Types, k)
		}
		sort.Slice(f.Types, func(i, j int) bool { return f.Types[i] < f.Types[j] })

		if len(acc.objects) > 0 && depth < MaxDepth {
			f.NestedFields = inferObjects(acc.objects, depth+1)
		}
		p.Fields[name] = f
	}

	return p
}

// observe folds a single value into the accumulator.
func observe(acc *fieldAcc, v any) {
	switch t := v.(type) {
	case nil:
		acc.nullable = true
	case string:
		acc.kinds[KindString] = true
	case bool:
		acc.kinds[KindBoolean] = true
	case float64, json.Number, int, int64:
		acc.kinds[KindNumber] = true
	case []any:
		acc.kinds[KindArray] = true
		acc.nested = true
	case map[string]any:
		acc.kinds[KindObject] = true
		acc.nested = true
		acc.objects = append(acc.objects, t)
	default:
		// Unknown Go type (caller fed non-JSON data); coerce to string kind
		// rather than failing the profile.
		acc.kinds[KindString] = true
	}
}
