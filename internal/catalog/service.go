// Package catalog orchestrates the ingest pipeline and the dataset catalog:
// profile a sample, pick a storage backend, generate a schema, write the
// records, and register the dataset. Reads are served through a best-effort
// cache in front of the two catalog stores.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"datacat/internal/cache"
	"datacat/internal/metrics"
	"datacat/internal/profile"
	"datacat/internal/schema"
	"datacat/internal/storage"
	"datacat/internal/transform"
)

const (
	// DefaultBatchSize bounds how many records a single insert statement
	// carries.
	DefaultBatchSize = 500

	// searchCap bounds a merged search result. Each store contributes at
	// most half.
	searchCap = 50

	defaultCacheTTL = 5 * time.Minute
)

// Service is the catalog orchestrator. It owns exactly one relational and
// one document store plus the cache in front of them.
type Service struct {
	rel   storage.RelationalStore
	doc   storage.DocumentStore
	cache cache.Cache
	log   zerolog.Logger

	batchSize  int
	sampleSize int
	cacheTTL   time.Duration

	// Seams for deterministic tests.
	now   func() time.Time
	newID func() string
}

// Options tunes the service. Zero values select defaults.
type Options struct {
	BatchSize  int
	SampleSize int
	CacheTTL   time.Duration
	Logger     zerolog.Logger
}

// New wires the service. Both stores must already be connected; the service
// never dials.
func New(rel storage.RelationalStore, doc storage.DocumentStore, c cache.Cache, opts Options) *Service {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	sample := opts.SampleSize
	if sample <= 0 {
		sample = profile.DefaultSampleSize
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if c == nil {
		c = cache.Noop{}
	}

	return &Service{
		rel:        rel,
		doc:        doc,
		cache:      c,
		log:        opts.Logger,
		batchSize:  batch,
		sampleSize: sample,
		cacheTTL:   ttl,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// IngestInput describes one dataset to ingest.
type IngestInput struct {
	Name        string
	Category    string
	MediaType   string
	Description string
	Tags        []string
	Metadata    map[string]any
	Size        int64

	// Records is the full payload. The profiling sample is drawn from its
	// head; every record is stored.
	Records []map[string]any
}

// Records normalizes a decoded JSON payload into a record list. A single
// object becomes a one-element list; arrays keep only their object elements.
func Records(payload any) ([]map[string]any, error) {
	switch v := payload.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		if len(out) == 0 {
			return nil, ErrNoRecords
		}
		return out, nil
	default:
		return nil, fmt.Errorf("catalog: payload must be a JSON object or array, got %T", payload)
	}
}

// CreateDataset runs the full ingest pipeline and returns the new catalog
// entry.
//
// Backend selection is automatic: flat records go to the relational store,
// nested records go to the document store. The schema is generated for every
// dataset regardless of backend; on the document path it is reference
// metadata describing the records' structure. If the relational write fails,
// the dataset falls back to the document store so a type mismatch deep in
// the payload does not lose the ingest.
func (s *Service) CreateDataset(ctx context.Context, in IngestInput) (*storage.Entry, error) {
	if in.Name == "" {
		return nil, ingestErr(StageProfile, errors.New("catalog: dataset name is required"))
	}
	if len(in.Records) == 0 {
		return nil, ingestErr(StageProfile, ErrNoRecords)
	}

	id := s.newID()
	log := s.log.With().Str("dataset_id", id).Str("name", in.Name).Logger()

	// Stage 1: profile a sample of the records.
	started := s.now()
	prof := profile.Infer(sampleOf(in.Records, s.sampleSize))
	s.observeStage(StageProfile, "ok", started)

	// Stage 2: generate the schema, then pick the backend. Generation is
	// unconditional so every dataset carries structural metadata and column
	// collisions fail before anything is written, whichever store owns the
	// data.
	gen, err := schema.Generate(in.Name, id, prof)
	if err != nil {
		s.countStage(StageSchema, "error")
		return nil, ingestErr(StageSchema, err)
	}
	kind := schema.SelectBackend(prof)
	s.countStage(StageSchema, "ok")

	// Stage 3: write the records.
	started = s.now()
	var count int64
	if kind == schema.StorageRelational {
		count, err = s.writeRelational(ctx, gen, in.Records)
		if err != nil {
			log.Warn().Err(err).Msg("relational write failed, falling back to document storage")
			s.countStage(StageWrite, "fallback")
			if dropErr := s.rel.DropEntity(ctx, gen.EntityName); dropErr != nil {
				log.Warn().Err(dropErr).Str("entity", gen.EntityName).Msg("cleanup of partial entity failed")
			}
			// The schema stays on the entry; it still describes the records.
			kind = schema.StorageDocument
			count, err = s.writeDocuments(ctx, id, in.Records)
		}
	} else {
		count, err = s.writeDocuments(ctx, id, in.Records)
	}
	if err != nil {
		s.observeStage(StageWrite, "error", started)
		return nil, ingestErr(StageWrite, err)
	}
	s.observeStage(StageWrite, "ok", started)
	metrics.IncCounter(metrics.RecordsTotal, float64(count), metrics.Labels{"storage": string(kind)})

	// Stage 4: register the dataset in the owning catalog store.
	now := s.now().UTC()
	entry := &storage.Entry{
		ID:          id,
		Name:        in.Name,
		Size:        in.Size,
		MediaType:   in.MediaType,
		Category:    in.Category,
		Storage:     kind,
		RecordCount: count,
		Schema:      gen,
		Metadata:    in.Metadata,
		Tags:        in.Tags,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.storeFor(kind).Insert(ctx, entry); err != nil {
		s.countStage(StageCatalog, "error")
		s.dropData(ctx, log, entry)
		return nil, ingestErr(StageCatalog, err)
	}
	s.countStage(StageCatalog, "ok")

	s.cache.DelByPattern(ctx, cache.ListingPattern)
	log.Info().Str("storage", string(kind)).Int64("records", count).Msg("dataset ingested")
	return entry, nil
}

// Get returns a catalog entry, probing the cache first, then both stores.
// A store that is down is treated as not holding the dataset so the healthy
// store still answers.
func (s *Service) Get(ctx context.Context, id string) (*storage.Entry, error) {
	key := cache.DatasetKey(id)

	var cached storage.Entry
	if s.cache.Get(ctx, key, &cached) {
		metrics.IncCounter(metrics.CacheTotal, 1, metrics.Labels{"op": "get", "outcome": "hit"})
		return &cached, nil
	}
	metrics.IncCounter(metrics.CacheTotal, 1, metrics.Labels{"op": "get", "outcome": "miss"})

	for _, st := range s.stores() {
		e, err := st.Get(ctx, id)
		if err == nil {
			s.cache.Set(ctx, key, e, s.cacheTTL)
			return e, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn().Err(err).Str("dataset_id", id).Msg("catalog store probe failed, continuing")
		}
	}
	return nil, storage.ErrNotFound
}

// List merges both stores' filtered entries, then sorts and paginates the
// union. A store that is down contributes nothing rather than failing the
// listing.
func (s *Service) List(ctx context.Context, f storage.Filters, p storage.Page) ([]*storage.Entry, error) {
	key := cache.ListKey(struct {
		F storage.Filters `json:"f"`
		P storage.Page    `json:"p"`
	}{f, p})

	var cached []*storage.Entry
	if s.cache.Get(ctx, key, &cached) {
		metrics.IncCounter(metrics.CacheTotal, 1, metrics.Labels{"op": "list", "outcome": "hit"})
		return cached, nil
	}
	metrics.IncCounter(metrics.CacheTotal, 1, metrics.Labels{"op": "list", "outcome": "miss"})

	merged := []*storage.Entry{}
	for _, st := range s.stores() {
		entries, err := st.List(ctx, f)
		if err != nil {
			s.log.Warn().Err(err).Msg("catalog store listing failed, continuing with partial results")
			continue
		}
		merged = append(merged, entries...)
	}

	storage.SortEntries(merged, p)
	out := storage.Paginate(merged, p)
	s.cache.Set(ctx, key, out, s.cacheTTL)
	return out, nil
}

// Search matches a keyword against names, descriptions and tags in both
// stores. The merged result is capped; each store contributes at most half
// the cap so one store cannot starve the other.
func (s *Service) Search(ctx context.Context, keyword string) ([]*storage.Entry, error) {
	key := cache.SearchKey(keyword, searchCap)

	var cached []*storage.Entry
	if s.cache.Get(ctx, key, &cached) {
		metrics.IncCounter(metrics.CacheTotal, 1, metrics.Labels{"op": "search", "outcome": "hit"})
		return cached, nil
	}
	metrics.IncCounter(metrics.CacheTotal, 1, metrics.Labels{"op": "search", "outcome": "miss"})

	perStore := searchCap / 2
	merged := []*storage.Entry{}
	for _, st := range s.stores() {
		entries, err := st.Search(ctx, keyword, perStore)
		if err != nil {
			s.log.Warn().Err(err).Str("keyword", keyword).Msg("catalog store search failed, continuing")
			continue
		}
		merged = append(merged, entries...)
	}

	storage.SortEntries(merged, storage.Page{SortBy: "name"})
	if len(merged) > searchCap {
		merged = merged[:searchCap]
	}
	s.cache.Set(ctx, key, merged, s.cacheTTL)
	return merged, nil
}

// Update applies a partial patch to whichever store owns the dataset and
// invalidates every cache entry that could reflect the old values.
func (s *Service) Update(ctx context.Context, id string, p storage.EntryPatch) (*storage.Entry, error) {
	if p.Empty() {
		return nil, errors.New("catalog: update patch is empty")
	}

	for _, st := range s.stores() {
		e, err := st.Update(ctx, id, p)
		if err == nil {
			s.invalidate(ctx, id)
			return e, nil
		}
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		// An unreachable store does not own the dataset as far as we can
		// tell; let the other store try, as Get does.
		if errors.Is(err, storage.ErrUnavailable) {
			s.log.Warn().Err(err).Str("dataset_id", id).Msg("catalog store unavailable during update, continuing")
			continue
		}
		return nil, err
	}
	return nil, storage.ErrNotFound
}

// Delete removes the dataset's data container first, then its catalog entry.
// If the data drop fails the entry stays so the delete can be retried.
func (s *Service) Delete(ctx context.Context, id string) error {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	switch entry.Storage {
	case schema.StorageRelational:
		if entry.Schema != nil {
			if err := s.rel.DropEntity(ctx, entry.Schema.EntityName); err != nil {
				return fmt.Errorf("catalog: drop data for %s: %w", id, err)
			}
		}
	case schema.StorageDocument:
		if err := s.doc.DropDocuments(ctx, id); err != nil {
			return fmt.Errorf("catalog: drop data for %s: %w", id, err)
		}
	}

	if err := s.storeFor(entry.Storage).Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.log.Info().Str("dataset_id", id).Msg("dataset deleted")
	return nil
}

// RetrieveQuery narrows a record retrieval.
type RetrieveQuery struct {
	Filter map[string]any
	Fields []string
	SortBy string
	Limit  int
	Offset int
}

// Retrieve returns a dataset's records in their original nested shape.
// Relational rows are unflattened transparently; callers cannot tell which
// backend served them.
func (s *Service) Retrieve(ctx context.Context, id string, q RetrieveQuery) ([]map[string]any, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	started := s.now()
	defer func() {
		metrics.ObserveHistogram(metrics.RetrieveDurationSecs, s.now().Sub(started).Seconds(), nil)
	}()

	if entry.Storage == schema.StorageRelational {
		if entry.Schema == nil {
			return nil, fmt.Errorf("catalog: dataset %s has no schema", id)
		}
		rows, err := s.rel.QueryRows(ctx, storage.RowQuery{
			Entity:  entry.Schema.EntityName,
			Filter:  q.Filter,
			Fields:  q.Fields,
			OrderBy: q.SortBy,
			Limit:   q.Limit,
			Offset:  q.Offset,
		})
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, len(rows))
		for i, row := range rows {
			out[i] = transform.Unflatten(row)
		}
		return out, nil
	}

	return s.doc.FindDocuments(ctx, storage.DocumentQuery{
		DatasetID: id,
		Filter:    q.Filter,
		Fields:    q.Fields,
		SortBy:    q.SortBy,
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
}

// ---- write paths ----

// writeRelational creates the entity and inserts every record as a flat row,
// one statement per batch. The first failing batch aborts the whole write;
// the caller handles fallback and cleanup.
func (s *Service) writeRelational(ctx context.Context, g *schema.Generated, records []map[string]any) (int64, error) {
	if err := s.rel.EnsureEntity(ctx, g); err != nil {
		return 0, err
	}

	cols, jsonCols := dataColumns(g)
	var total int64
	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}

		rows := make([][]any, 0, end-start)
		for _, rec := range records[start:end] {
			row, err := buildRow(cols, jsonCols, transform.Flatten(rec))
			if err != nil {
				return total, err
			}
			rows = append(rows, row)
		}

		n, err := s.rel.InsertRows(ctx, g.EntityName, cols, rows)
		if err != nil {
			return total, err
		}
		total += n
		metrics.IncCounter(metrics.BatchesTotal, 1, nil)
	}
	return total, nil
}

// writeDocuments inserts records as-is, stamped with the owning dataset id
// and the import timestamp.
func (s *Service) writeDocuments(ctx context.Context, id string, records []map[string]any) (int64, error) {
	importedAt := s.now().UTC().Format(time.RFC3339Nano)

	var total int64
	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}

		docs := make([]map[string]any, 0, end-start)
		for _, rec := range records[start:end] {
			doc := make(map[string]any, len(rec)+2)
			for k, v := range rec {
				doc[k] = v
			}
			doc["dataset_id"] = id
			doc["imported_at"] = importedAt
			docs = append(docs, doc)
		}

		n, err := s.doc.InsertDocuments(ctx, id, docs)
		if err != nil {
			return total, err
		}
		total += n
		metrics.IncCounter(metrics.BatchesTotal, 1, nil)
	}
	return total, nil
}

// dataColumns returns the insertable columns of a generated schema (the
// housekeeping columns are server-populated) and the set that holds JSON.
func dataColumns(g *schema.Generated) (cols []string, jsonCols map[string]bool) {
	jsonCols = map[string]bool{}
	for _, c := range g.Columns {
		if c.Name == schema.ColumnID || c.Name == schema.ColumnCreatedAt {
			continue
		}
		cols = append(cols, c.Name)
		if c.Type == schema.TypeJSON {
			jsonCols[c.Name] = true
		}
	}
	return cols, jsonCols
}

// buildRow aligns a flattened record with the column list. Missing fields
// become NULL; values bound for JSON columns are serialized.
func buildRow(cols []string, jsonCols map[string]bool, flat map[string]any) ([]any, error) {
	row := make([]any, len(cols))
	for i, c := range cols {
		v, ok := flat[c]
		if !ok || v == nil {
			row[i] = nil
			continue
		}
		if jsonCols[c] {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("catalog: serialize column %s: %w", c, err)
			}
			row[i] = string(b)
			continue
		}
		row[i] = v
	}
	return row, nil
}

// ---- helpers ----

func (s *Service) stores() []storage.CatalogStore {
	return []storage.CatalogStore{s.rel, s.doc}
}

func (s *Service) storeFor(kind schema.Storage) storage.CatalogStore {
	if kind == schema.StorageDocument {
		return s.doc
	}
	return s.rel
}

// dropData best-effort removes a dataset's data container after a failed
// catalog registration.
func (s *Service) dropData(ctx context.Context, log zerolog.Logger, e *storage.Entry) {
	var err error
	switch e.Storage {
	case schema.StorageRelational:
		if e.Schema != nil {
			err = s.rel.DropEntity(ctx, e.Schema.EntityName)
		}
	case schema.StorageDocument:
		err = s.doc.DropDocuments(ctx, e.ID)
	}
	if err != nil {
		log.Warn().Err(err).Msg("cleanup of orphaned data failed")
	}
}

func (s *Service) invalidate(ctx context.Context, id string) {
	s.cache.Del(ctx, cache.DatasetKey(id))
	s.cache.DelByPattern(ctx, cache.ListingPattern)
}

func (s *Service) countStage(stage Stage, status string) {
	metrics.IncCounter(metrics.IngestTotal, 1, metrics.Labels{"stage": string(stage), "status": status})
}

func (s *Service) observeStage(stage Stage, status string, started time.Time) {
	s.countStage(stage, status)
	metrics.ObserveHistogram(metrics.IngestDurationSecs, s.now().Sub(started).Seconds(),
		metrics.Labels{"stage": string(stage), "status": status})
}

func sampleOf(records []map[string]any, n int) []any {
	if len(records) < n {
		n = len(records)
	}
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = records[i]
	}
	return out
}
