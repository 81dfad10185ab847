package mongo

import (
	"reflect"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"datacat/internal/schema"
	"datacat/internal/storage"
)

func TestBuildListFilter(t *testing.T) {
	t.Parallel()

	if got := buildListFilter(storage.Filters{}); len(got) != 0 {
		t.Fatalf("empty filters must produce an empty query, got %#v", got)
	}

	got := buildListFilter(storage.Filters{
		Category: "sales",
		Storage:  schema.StorageDocument,
	})
	want := bson.M{"category": "sales", "storage": "document"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("filter = %#v, want %#v", got, want)
	}
}

func TestBuildSearchFilter_QuotesMetacharacters(t *testing.T) {
	t.Parallel()

	f := buildSearchFilter("a.c*")
	or, ok := f["$or"].(bson.A)
	if !ok || len(or) != 3 {
		t.Fatalf("expected 3-way $or, got %#v", f)
	}
	name := or[0].(bson.M)["name"].(bson.M)
	if name["$regex"] != `a\.c\*` {
		t.Fatalf("regex not quoted: %#v", name)
	}
	if name["$options"] != "i" {
		t.Fatalf("match must be case-insensitive: %#v", name)
	}
}

func TestBuildPatchSet(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	desc := "fresh"

	set := buildPatchSet(storage.EntryPatch{Description: &desc, Tags: []string{"a"}}, now)
	if set["description"] != "fresh" {
		t.Fatalf("description missing: %#v", set)
	}
	if set["updated_at"] != now {
		t.Fatalf("updated_at must always be stamped: %#v", set)
	}
	if _, ok := set["metadata"]; ok {
		t.Fatalf("nil metadata must not be set: %#v", set)
	}
}

func TestBuildProjection(t *testing.T) {
	t.Parallel()

	if got := buildProjection(nil); got != nil {
		t.Fatalf("no fields must mean no projection, got %#v", got)
	}

	got := buildProjection([]string{"user_name", "tags"})
	want := bson.M{"_id": 0, "user_name": 1, "tags": 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("projection = %#v, want %#v", got, want)
	}
}

func TestStripBookkeeping(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"_id":         "507f1f77bcf86cd799439011",
		"dataset_id":  "abc-123",
		"imported_at": "2024-06-01T12:00:00Z",
		"user":        map[string]any{"name": "Ann"},
		"tags":        []any{"raw"},
	}

	stripBookkeeping(doc)

	want := map[string]any{
		"user": map[string]any{"name": "Ann"},
		"tags": []any{"raw"},
	}
	if !reflect.DeepEqual(doc, want) {
		t.Fatalf("bookkeeping fields must be stripped, got %#v", doc)
	}
}

func TestCatalogDocRoundTrip(t *testing.T) {
	t.Parallel()

	e := &storage.Entry{
		ID:          "abc-123",
		Name:        "events",
		Size:        42,
		MediaType:   "application/json",
		Category:    "telemetry",
		Storage:     schema.StorageDocument,
		RecordCount: 7,
		Tags:        []string{"raw"},
		Description: "nightly export",
		CreatedAt:   time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC),
	}

	got := fromDoc(toDoc(e))
	if got.Metadata == nil {
		t.Fatalf("metadata must be materialized as empty map")
	}
	got.Metadata = nil
	if !reflect.DeepEqual(got, e) {
		t.Fatalf("round trip changed entry:\ngot  %#v\nwant %#v", got, e)
	}
}

func TestDataCollectionNaming(t *testing.T) {
	t.Parallel()

	if got := dataCollection("abc-123"); got != "dataset_abc-123" {
		t.Fatalf("dataCollection = %q", got)
	}
	if dataCollection("x") == catalogCollection {
		t.Fatalf("data collections must never collide with the catalog collection")
	}
}
