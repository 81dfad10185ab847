package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"datacat/internal/schema"
	"datacat/internal/storage"
)

// ---- fakes ----

type fakeRelational struct {
	entries map[string]*storage.Entry

	ensureCalls int
	insertRows  [][][]any
	insertCols  []string
	dropped     []string

	failInsertRows bool
	failGet        bool
	failUpdate     bool

	queried  []storage.RowQuery
	rowsOut  []map[string]any
	searched []string
}

func newFakeRelational() *fakeRelational {
	return &fakeRelational{entries: map[string]*storage.Entry{}}
}

func (f *fakeRelational) Kind() schema.Storage { return schema.StorageRelational }
func (f *fakeRelational) Close()               {}

func (f *fakeRelational) Insert(_ context.Context, e *storage.Entry) error {
	f.entries[e.ID] = e
	return nil
}

func (f *fakeRelational) Get(_ context.Context, id string) (*storage.Entry, error) {
	if f.failGet {
		return nil, fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
	}
	e, ok := f.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e, nil
}

func (f *fakeRelational) List(_ context.Context, filt storage.Filters) ([]*storage.Entry, error) {
	out := []*storage.Entry{}
	for _, e := range f.entries {
		if storage.Match(e, filt) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRelational) Update(_ context.Context, id string, p storage.EntryPatch) (*storage.Entry, error) {
	if f.failUpdate {
		return nil, fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
	}
	e, ok := f.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	return e, nil
}

func (f *fakeRelational) Delete(_ context.Context, id string) error {
	if _, ok := f.entries[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.entries, id)
	return nil
}

func (f *fakeRelational) Search(_ context.Context, keyword string, limit int) ([]*storage.Entry, error) {
	f.searched = append(f.searched, keyword)
	out := []*storage.Entry{}
	for _, e := range f.entries {
		if len(out) >= limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeRelational) Execute(context.Context, string) error { return nil }

func (f *fakeRelational) EnsureEntity(_ context.Context, g *schema.Generated) error {
	f.ensureCalls++
	return nil
}

func (f *fakeRelational) InsertRows(_ context.Context, entity string, cols []string, rows [][]any) (int64, error) {
	if f.failInsertRows {
		return 0, errors.New("type mismatch in row 3")
	}
	f.insertCols = cols
	f.insertRows = append(f.insertRows, rows)
	return int64(len(rows)), nil
}

func (f *fakeRelational) QueryRows(_ context.Context, q storage.RowQuery) ([]map[string]any, error) {
	f.queried = append(f.queried, q)
	return f.rowsOut, nil
}

func (f *fakeRelational) DropEntity(_ context.Context, entity string) error {
	f.dropped = append(f.dropped, entity)
	return nil
}

type fakeDocument struct {
	entries map[string]*storage.Entry
	docs    map[string][]map[string]any

	dropped  []string
	queried  []storage.DocumentQuery
	searched []string
}

func newFakeDocument() *fakeDocument {
	return &fakeDocument{
		entries: map[string]*storage.Entry{},
		docs:    map[string][]map[string]any{},
	}
}

func (f *fakeDocument) Kind() schema.Storage { return schema.StorageDocument }
func (f *fakeDocument) Close()               {}

func (f *fakeDocument) Insert(_ context.Context, e *storage.Entry) error {
	f.entries[e.ID] = e
	return nil
}

func (f *fakeDocument) Get(_ context.Context, id string) (*storage.Entry, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e, nil
}

func (f *fakeDocument) List(_ context.Context, filt storage.Filters) ([]*storage.Entry, error) {
	out := []*storage.Entry{}
	for _, e := range f.entries {
		if storage.Match(e, filt) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeDocument) Update(_ context.Context, id string, p storage.EntryPatch) (*storage.Entry, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	return e, nil
}

func (f *fakeDocument) Delete(_ context.Context, id string) error {
	if _, ok := f.entries[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.entries, id)
	return nil
}

func (f *fakeDocument) Search(_ context.Context, keyword string, limit int) ([]*storage.Entry, error) {
	f.searched = append(f.searched, keyword)
	out := []*storage.Entry{}
	for _, e := range f.entries {
		if len(out) >= limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeDocument) InsertDocuments(_ context.Context, id string, docs []map[string]any) (int64, error) {
	f.docs[id] = append(f.docs[id], docs...)
	return int64(len(docs)), nil
}

func (f *fakeDocument) FindDocuments(_ context.Context, q storage.DocumentQuery) ([]map[string]any, error) {
	f.queried = append(f.queried, q)
	return f.docs[q.DatasetID], nil
}

func (f *fakeDocument) DropDocuments(_ context.Context, id string) error {
	f.dropped = append(f.dropped, id)
	delete(f.docs, id)
	return nil
}

type fakeCache struct {
	store    map[string][]byte
	sets     []string
	dels     []string
	patterns []string
}

func newFakeCache() *fakeCache { return &fakeCache{store: map[string][]byte{}} }

// Get always misses; these tests exercise the store paths. Cache hit
// behavior is covered by the cache package's own tests.
func (f *fakeCache) Get(_ context.Context, key string, dest any) bool {
	return false
}

func (f *fakeCache) Set(_ context.Context, key string, _ any, _ time.Duration) {
	f.sets = append(f.sets, key)
	f.store[key] = []byte("x")
}

func (f *fakeCache) Del(_ context.Context, keys ...string) {
	f.dels = append(f.dels, keys...)
}

func (f *fakeCache) DelByPattern(_ context.Context, pattern string) int {
	f.patterns = append(f.patterns, pattern)
	return 0
}

func (f *fakeCache) Close() {}

// ---- helpers ----

func newTestService(rel *fakeRelational, doc *fakeDocument, c *fakeCache, batch int) *Service {
	s := New(rel, doc, c, Options{
		BatchSize: batch,
		Logger:    zerolog.Nop(),
	})
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	s.now = func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return s
}

// ---- tests ----

func TestCreateDataset_FlatRecordsGoRelational(t *testing.T) {
	t.Parallel()

	rel := newFakeRelational()
	doc := newFakeDocument()
	s := newTestService(rel, doc, newFakeCache(), 2)

	records := []map[string]any{
		{"id": 1.0, "name": "Ann", "active": true},
		{"id": 2.0, "name": "Bo", "active": false},
		{"id": 3.0, "name": "Cy", "active": true},
	}

	entry, err := s.CreateDataset(context.Background(), IngestInput{Name: "people", Records: records})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	if entry.Storage != schema.StorageRelational {
		t.Fatalf("storage = %s, want relational", entry.Storage)
	}
	if entry.Schema == nil || entry.Schema.EntityName == "" {
		t.Fatalf("relational entry must carry a generated schema: %+v", entry.Schema)
	}
	if entry.RecordCount != 3 {
		t.Fatalf("record count = %d, want 3", entry.RecordCount)
	}
	if rel.ensureCalls != 1 {
		t.Fatalf("EnsureEntity calls = %d, want 1", rel.ensureCalls)
	}
	// Batch size 2 means 3 records arrive as two statements.
	if len(rel.insertRows) != 2 || len(rel.insertRows[0]) != 2 || len(rel.insertRows[1]) != 1 {
		t.Fatalf("unexpected batching: %d batches", len(rel.insertRows))
	}
	if _, ok := rel.entries[entry.ID]; !ok {
		t.Fatalf("catalog entry must live in the relational store")
	}
	if _, ok := doc.entries[entry.ID]; ok {
		t.Fatalf("catalog entry must not be duplicated into the document store")
	}
}

func TestCreateDataset_NestedRecordsGoDocument(t *testing.T) {
	t.Parallel()

	rel := newFakeRelational()
	doc := newFakeDocument()
	s := newTestService(rel, doc, newFakeCache(), 10)

	records := []map[string]any{
		{"user": map[string]any{"name": "Ann"}, "tags": []any{"a"}},
	}

	entry, err := s.CreateDataset(context.Background(), IngestInput{Name: "events", Records: records})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	if entry.Storage != schema.StorageDocument {
		t.Fatalf("storage = %s, want document", entry.Storage)
	}
	if entry.Schema == nil || entry.Schema.EntityName == "" {
		t.Fatalf("document entries still carry the generated schema: %+v", entry.Schema)
	}
	if rel.ensureCalls != 0 {
		t.Fatalf("relational store must not be touched")
	}

	stored := doc.docs[entry.ID]
	if len(stored) != 1 {
		t.Fatalf("stored docs = %d, want 1", len(stored))
	}
	if stored[0]["dataset_id"] != entry.ID {
		t.Fatalf("documents must be stamped with dataset_id: %#v", stored[0])
	}
	if _, ok := stored[0]["imported_at"]; !ok {
		t.Fatalf("documents must be stamped with imported_at: %#v", stored[0])
	}
	// The original record must not be mutated by stamping.
	if _, ok := records[0]["dataset_id"]; ok {
		t.Fatalf("ingest must not mutate caller records")
	}
}

func TestCreateDataset_SchemaGeneratedForDocumentDatasets(t *testing.T) {
	t.Parallel()

	rel := newFakeRelational()
	doc := newFakeDocument()
	s := newTestService(rel, doc, newFakeCache(), 10)

	// A scalar array forces document storage; the entry still describes its
	// structure.
	records := []map[string]any{
		{"id": 1.0, "tags": []any{"x", "y"}},
	}

	entry, err := s.CreateDataset(context.Background(), IngestInput{Name: "tagged", Records: records})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	if entry.Storage != schema.StorageDocument {
		t.Fatalf("storage = %s, want document", entry.Storage)
	}
	if entry.Schema == nil {
		t.Fatalf("document-backed entry must carry a generated schema")
	}
	if entry.Schema.Validation == nil || entry.Schema.Validation.Properties["tags"] == nil {
		t.Fatalf("schema must describe the profiled fields: %+v", entry.Schema.Validation)
	}
}

func TestCreateDataset_FallsBackToDocumentOnWriteFailure(t *testing.T) {
	t.Parallel()

	rel := newFakeRelational()
	rel.failInsertRows = true
	doc := newFakeDocument()
	s := newTestService(rel, doc, newFakeCache(), 10)

	records := []map[string]any{{"id": 1.0, "name": "Ann"}}

	entry, err := s.CreateDataset(context.Background(), IngestInput{Name: "people", Records: records})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	if entry.Storage != schema.StorageDocument {
		t.Fatalf("storage = %s, want document after fallback", entry.Storage)
	}
	if entry.Schema == nil {
		t.Fatalf("fallback entry must keep the generated schema")
	}
	if len(rel.dropped) != 1 {
		t.Fatalf("partial entity must be dropped, dropped=%v", rel.dropped)
	}
	if len(doc.docs[entry.ID]) != 1 {
		t.Fatalf("records must land in the document store")
	}
}

func TestCreateDataset_ColumnCollisionFailsAtSchemaStage(t *testing.T) {
	t.Parallel()

	s := newTestService(newFakeRelational(), newFakeDocument(), newFakeCache(), 10)

	_, err := s.CreateDataset(context.Background(), IngestInput{
		Name:    "bad",
		Records: []map[string]any{{"_id": 1.0}},
	})
	if err == nil {
		t.Fatalf("expected schema error")
	}

	var ie *IngestError
	if !errors.As(err, &ie) || ie.Stage != StageSchema {
		t.Fatalf("expected IngestError at schema stage, got %v", err)
	}
	if !errors.Is(err, schema.ErrFieldCollision) {
		t.Fatalf("expected field collision, got %v", err)
	}
}

func TestCreateDataset_EmptyInput(t *testing.T) {
	t.Parallel()

	s := newTestService(newFakeRelational(), newFakeDocument(), newFakeCache(), 10)

	if _, err := s.CreateDataset(context.Background(), IngestInput{Name: "x"}); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}
	if _, err := s.CreateDataset(context.Background(), IngestInput{Records: []map[string]any{{"a": 1.0}}}); err == nil {
		t.Fatalf("expected error for missing name")
	}
}

func TestGet_ProbesSecondStoreWhenFirstIsDown(t *testing.T) {
	t.Parallel()

	rel := newFakeRelational()
	rel.failGet = true
	doc := newFakeDocument()
	doc.entries["abc"] = &storage.Entry{ID: "abc", Storage: schema.StorageDocument}

	s := newTestService(rel, doc, newFakeCache(), 10)

	e, err := s.Get(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Get must survive one store being down: %v", err)
	}
	if e.ID != "abc" {
		t.Fatalf("got entry %q", e.ID)
	}
}

func TestGet_NotFoundAnywhere(t *testing.T) {
	t.Parallel()

	s := newTestService(newFakeRelational(), newFakeDocument(), newFakeCache(), 10)

	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList_MergesSortsAndPaginates(t *testing.T) {
	t.Parallel()

	rel := newFakeRelational()
	doc := newFakeDocument()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rel.entries["a"] = &storage.Entry{ID: "a", Name: "alpha", Storage: schema.StorageRelational, CreatedAt: base.Add(2 * time.Hour)}
	rel.entries["b"] = &storage.Entry{ID: "b", Name: "bravo", Storage: schema.StorageRelational, CreatedAt: base}
	doc.entries["c"] = &storage.Entry{ID: "c", Name: "charlie", Storage: schema.StorageDocument, CreatedAt: base.Add(time.Hour)}

	s := newTestService(rel, doc, newFakeCache(), 10)

	got, err := s.List(context.Background(), storage.Filters{}, storage.Page{SortBy: "name", Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Name != "alpha" || got[1].Name != "bravo" {
		t.Fatalf("unexpected page: %+v", got)
	}

	// Storage filter reaches only the matching store's entries.
	got, err = s.List(context.Background(), storage.Filters{Storage: schema.StorageDocument}, storage.Page{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("unexpected filtered listing: %+v", got)
	}
}

func TestSearch_QueriesBothStoresWithHalfCap(t *testing.T) {
	t.Parallel()

	rel := newFakeRelational()
	doc := newFakeDocument()
	rel.entries["a"] = &storage.Entry{ID: "a", Name: "sales q1"}
	doc.entries["b"] = &storage.Entry{ID: "b", Name: "sales q2"}

	s := newTestService(rel, doc, newFakeCache(), 10)

	got, err := s.Search(context.Background(), "sales")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("merged results = %d, want 2", len(got))
	}
	if len(rel.searched) != 1 || len(doc.searched) != 1 {
		t.Fatalf("both stores must be searched")
	}
}

func TestUpdate_FindsOwnerAndInvalidates(t *testing.T) {
	t.Parallel()

	rel := newFakeRelational()
	doc := newFakeDocument()
	doc.entries["abc"] = &storage.Entry{ID: "abc", Storage: schema.StorageDocument}
	c := newFakeCache()

	s := newTestService(rel, doc, c, 10)

	desc := "fresh"
	e, err := s.Update(context.Background(), "abc", storage.EntryPatch{Description: &desc})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if e.Description != "fresh" {
		t.Fatalf("description not applied: %+v", e)
	}
	if len(c.dels) == 0 || len(c.patterns) == 0 {
		t.Fatalf("update must invalidate entry and listing caches: dels=%v patterns=%v", c.dels, c.patterns)
	}
}

func TestUpdate_ProbesSecondStoreWhenFirstIsDown(t *testing.T) {
	t.Parallel()

	rel := newFakeRelational()
	rel.failUpdate = true
	doc := newFakeDocument()
	doc.entries["abc"] = &storage.Entry{ID: "abc", Storage: schema.StorageDocument}

	s := newTestService(rel, doc, newFakeCache(), 10)

	desc := "fresh"
	e, err := s.Update(context.Background(), "abc", storage.EntryPatch{Description: &desc})
	if err != nil {
		t.Fatalf("Update must survive one store being down: %v", err)
	}
	if e.Description != "fresh" {
		t.Fatalf("description not applied: %+v", e)
	}
}

func TestDelete_DropsDataThenEntry(t *testing.T) {
	t.Parallel()

	rel := newFakeRelational()
	doc := newFakeDocument()
	gen := &schema.Generated{EntityName: "ds_people_id_1"}
	rel.entries["abc"] = &storage.Entry{ID: "abc", Storage: schema.StorageRelational, Schema: gen}

	s := newTestService(rel, doc, newFakeCache(), 10)

	if err := s.Delete(context.Background(), "abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(rel.dropped) != 1 || rel.dropped[0] != "ds_people_id_1" {
		t.Fatalf("entity must be dropped: %v", rel.dropped)
	}
	if _, ok := rel.entries["abc"]; ok {
		t.Fatalf("catalog entry must be removed")
	}
}

func TestRetrieve_UnflattensRelationalRows(t *testing.T) {
	t.Parallel()

	rel := newFakeRelational()
	doc := newFakeDocument()
	gen := &schema.Generated{EntityName: "ds_people_id_1"}
	rel.entries["abc"] = &storage.Entry{ID: "abc", Storage: schema.StorageRelational, Schema: gen}
	rel.rowsOut = []map[string]any{
		{"_id": 1.0, "_created_at": "2024-06-01", "user_name": "Ann", "user_age": 30.0},
	}

	s := newTestService(rel, doc, newFakeCache(), 10)

	got, err := s.Retrieve(context.Background(), "abc", RetrieveQuery{Limit: 10})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}

	user, ok := got[0]["user"].(map[string]any)
	if !ok {
		t.Fatalf("row must be unflattened into nested shape: %#v", got[0])
	}
	if user["name"] != "Ann" || user["age"] != 30.0 {
		t.Fatalf("unexpected nested record: %#v", user)
	}
	if _, ok := got[0]["_id"]; ok {
		t.Fatalf("housekeeping columns must be stripped: %#v", got[0])
	}
}

func TestRetrieve_DocumentPassthrough(t *testing.T) {
	t.Parallel()

	rel := newFakeRelational()
	doc := newFakeDocument()
	doc.entries["abc"] = &storage.Entry{ID: "abc", Storage: schema.StorageDocument}
	doc.docs["abc"] = []map[string]any{{"user": map[string]any{"name": "Ann"}}}

	s := newTestService(rel, doc, newFakeCache(), 10)

	got, err := s.Retrieve(context.Background(), "abc", RetrieveQuery{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}
	if len(doc.queried) != 1 || doc.queried[0].DatasetID != "abc" {
		t.Fatalf("document query not issued: %+v", doc.queried)
	}
}

func TestRecords_NormalizesPayloadShapes(t *testing.T) {
	t.Parallel()

	got, err := Records(map[string]any{"a": 1.0})
	if err != nil || len(got) != 1 {
		t.Fatalf("single object must become one record: %v %v", got, err)
	}

	got, err = Records([]any{map[string]any{"a": 1.0}, "noise", map[string]any{"b": 2.0}})
	if err != nil || len(got) != 2 {
		t.Fatalf("array must keep only objects: %v %v", got, err)
	}

	if _, err := Records("scalar"); err == nil {
		t.Fatalf("scalar payloads must be rejected")
	}
	if _, err := Records([]any{"only", "scalars"}); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("object-free arrays must be rejected: %v", err)
	}
}
