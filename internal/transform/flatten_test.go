package transform

import (
	"reflect"
	"testing"

	"datacat/internal/schema"
)

func TestFlatten_NestedObjectAndArray(t *testing.T) {
	t.Parallel()

	rec := map[string]any{
		"id":   float64(1),
		"addr": map[string]any{"city": "NYC"},
		"tags": []any{"a", "b"},
	}

	got := Flatten(rec)
	want := map[string]any{
		"id":        float64(1),
		"addr_city": "NYC",
		"tags":      `["a","b"]`,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Flatten = %#v, want %#v", got, want)
	}
}

func TestFlatten_NoCompoundValuesRemain(t *testing.T) {
	t.Parallel()

	rec := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": []any{float64(1)}}},
		"d": []any{map[string]any{"e": "f"}},
	}

	for k, v := range Flatten(rec) {
		switch v.(type) {
		case map[string]any, []any:
			t.Fatalf("compound value survived flatten at %q: %#v", k, v)
		}
	}
}

func TestFlatten_NilPassesThrough(t *testing.T) {
	t.Parallel()

	got := Flatten(map[string]any{"a": nil})
	if v, ok := got["a"]; !ok || v != nil {
		t.Fatalf("nil must pass through: %#v", got)
	}
}

func TestUnflatten_RestoresNesting(t *testing.T) {
	t.Parallel()

	row := map[string]any{
		"id":        float64(1),
		"addr_city": "NYC",
		"tags":      `["a","b"]`,
	}

	got := Unflatten(row)
	want := map[string]any{
		"id":   float64(1),
		"addr": map[string]any{"city": "NYC"},
		"tags": []any{"a", "b"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Unflatten = %#v, want %#v", got, want)
	}
}

func TestUnflatten_DropsHousekeepingColumns(t *testing.T) {
	t.Parallel()

	row := map[string]any{
		schema.ColumnID:        int64(7),
		schema.ColumnCreatedAt: "2024-01-01T00:00:00Z",
		"name":                 "x",
	}

	got := Unflatten(row)
	if len(got) != 1 || got["name"] != "x" {
		t.Fatalf("housekeeping columns must be dropped: %#v", got)
	}
}

func TestUnflatten_ScalarJSONLiteralStringsStayStrings(t *testing.T) {
	t.Parallel()

	row := map[string]any{
		"a": "123",
		"b": "true",
		"c": "null",
		"d": `"quoted"`,
	}

	got := Unflatten(row)
	for k, v := range row {
		if got[k] != v {
			t.Fatalf("scalar-literal string %q must survive unchanged, got %#v", k, got[k])
		}
	}
}

func TestUnflatten_CompoundLookingStringIsUnwrapped(t *testing.T) {
	t.Parallel()

	// Documented lossy behavior: a legitimate string field holding a JSON
	// array or object text is indistinguishable from a flattened compound.
	got := Unflatten(map[string]any{"payload": `{"x":1}`})
	if _, ok := got["payload"].(map[string]any); !ok {
		t.Fatalf("compound-looking string must be unwrapped: %#v", got["payload"])
	}

	// Invalid JSON stays a string.
	got = Unflatten(map[string]any{"broken": "{not json"})
	if got["broken"] != "{not json" {
		t.Fatalf("unparseable string must stay verbatim: %#v", got["broken"])
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	records := []map[string]any{
		{"id": float64(1), "name": "Ann"},
		{"id": float64(1), "addr": map[string]any{"city": "NYC"}, "tags": []any{"a", "b"}},
		{"deep": map[string]any{"a": map[string]any{"b": map[string]any{"c": float64(3)}}}},
		{"mix": []any{float64(1), "two", true, nil}},
		{"flag": true, "note": nil},
	}

	for i, rec := range records {
		got := Unflatten(Flatten(rec))
		if !reflect.DeepEqual(got, rec) {
			t.Fatalf("record %d did not round-trip:\n in: %#v\nout: %#v", i, rec, got)
		}
	}
}
