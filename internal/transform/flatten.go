// Package transform implements the bidirectional mapping between nested JSON
// records and flat relational rows.
//
// Flatten and Unflatten are intended as approximate inverses. The round trip
// holds except for:
//   - numeric precision coercion by the relational type system
//   - original keys that contain the join separator ("_"), which Unflatten
//     cannot distinguish from a flattened path
//   - string values that look like JSON compound literals (leading '[' or
//     '{'), which Unflatten re-parses
package transform

import (
	"encoding/json"
	"strings"

	"datacat/internal/schema"
)

// Separator joins path segments when nested objects are flattened
// ("addr" + "city" -> "addr_city").
const Separator = "_"

// maxDepth bounds recursion while flattening. Deeper structures are
// serialized as JSON text instead of expanded.
const maxDepth = 32

// Flatten converts a nested record into a flat key-value row.
//
// Per key/value pair:
//   - nil passes through unchanged
//   - arrays are serialized to JSON text under the unmodified key
//   - objects are recursively flattened with the parent key prepended and
//     merged into the result
//   - every other scalar passes through unchanged
//
// The returned row contains no compound values.
func Flatten(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	flattenInto(out, "", record, 0)
	return out
}

func flattenInto(out map[string]any, prefix string, obj map[string]any, depth int) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + Separator + k
		}

		switch t := v.(type) {
		case nil:
			out[key] = nil
		case []any:
			out[key] = encodeJSON(t)
		case map[string]any:
			if depth >= maxDepth {
				out[key] = encodeJSON(t)
				continue
			}
			flattenInto(out, key, t, depth+1)
		default:
			out[key] = v
		}
	}
}

// Unflatten converts a flat row back into a nested record.
//
// Each key is split on the separator into a path; nested objects are created
// along the path and the leaf assigned. String values that start with '[' or
// '{' are parsed as JSON and substituted when parsing succeeds, which restores
// the arrays and deeply nested objects that Flatten serialized as text. Plain
// JSON scalars in strings (e.g. "123", "true") are deliberately left alone.
//
// The two housekeeping columns written by the relational path are dropped,
// not restored.
func Unflatten(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))

	for k, v := range row {
		if k == schema.ColumnID || k == schema.ColumnCreatedAt {
			continue
		}

		if s, ok := v.(string); ok {
			v = decodeCompound(s)
		}

		path := strings.Split(k, Separator)
		cur := out
		for i := 0; i < len(path)-1; i++ {
			seg := path[i]
			next, ok := cur[seg].(map[string]any)
			if !ok {
				// A scalar already sits at this segment (separator ambiguity);
				// the deeper path wins and the scalar is replaced.
				next = make(map[string]any)
				cur[seg] = next
			}
			cur = next
		}
		cur[path[len(path)-1]] = v
	}

	return out
}

// encodeJSON renders a compound value as canonical JSON text. Encoding a
// value that was just decoded from JSON cannot fail; the fallback keeps
// Flatten total anyway.
func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// decodeCompound re-parses strings holding JSON arrays or objects. Anything
// else (including scalar JSON literals) is returned verbatim.
func decodeCompound(s string) any {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 {
		return s
	}
	if trimmed[0] != '[' && trimmed[0] != '{' {
		return s
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return s
	}
	return v
}
