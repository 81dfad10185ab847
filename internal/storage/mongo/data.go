package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"datacat/internal/storage"
)

// dataCollection names the per-dataset data collection. Dataset ids are
// UUIDs, so the name is collision-free and never clashes with the catalog
// collection.
func dataCollection(datasetID string) string {
	return "dataset_" + datasetID
}

// InsertDocuments bulk-inserts one batch of documents into the dataset's
// collection. Documents arrive already stamped with dataset_id and
// imported_at; this layer does not inspect them.
func (s *Store) InsertDocuments(ctx context.Context, datasetID string, docs []map[string]any) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	payload := make([]any, len(docs))
	for i, d := range docs {
		payload[i] = d
	}

	res, err := s.db.Collection(dataCollection(datasetID)).InsertMany(ctx, payload)
	if err != nil {
		var inserted int64
		if res != nil {
			inserted = int64(len(res.InsertedIDs))
		}
		return inserted, fmt.Errorf("mongo: insert into dataset %s: %w", datasetID, err)
	}
	return int64(len(res.InsertedIDs)), nil
}

// FindDocuments returns matching documents with the driver's _id and the
// ingest stamps stripped, so callers see the documents exactly as they were
// ingested regardless of backend.
func (s *Store) FindDocuments(ctx context.Context, q storage.DocumentQuery) ([]map[string]any, error) {
	opts := options.Find()
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	if q.SortBy != "" {
		opts.SetSort(bson.D{{Key: q.SortBy, Value: 1}})
	}
	if proj := buildProjection(q.Fields); proj != nil {
		opts.SetProjection(proj)
	}

	cur, err := s.db.Collection(dataCollection(q.DatasetID)).Find(ctx, buildDataFilter(q.Filter), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: query dataset %s: %w", q.DatasetID, err)
	}
	defer cur.Close(ctx)

	out := []map[string]any{}
	for cur.Next(ctx) {
		var doc map[string]any
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo: decode document from dataset %s: %w", q.DatasetID, err)
		}
		stripBookkeeping(doc)
		out = append(out, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo: cursor for dataset %s: %w", q.DatasetID, err)
	}
	return out, nil
}

// DropDocuments drops the per-dataset collection. Dropping a collection that
// does not exist is a no-op in MongoDB, so this is idempotent.
func (s *Store) DropDocuments(ctx context.Context, datasetID string) error {
	if err := s.db.Collection(dataCollection(datasetID)).Drop(ctx); err != nil {
		return fmt.Errorf("mongo: drop dataset %s: %w", datasetID, err)
	}
	return nil
}

// stripBookkeeping removes the fields this backend adds around a record: the
// driver's _id plus the dataset_id and imported_at stamps written at ingest.
func stripBookkeeping(doc map[string]any) {
	delete(doc, "_id")
	delete(doc, "dataset_id")
	delete(doc, "imported_at")
}

// buildDataFilter translates equality predicates into a BSON query document.
func buildDataFilter(filter map[string]any) bson.M {
	q := bson.M{}
	for k, v := range filter {
		q[k] = v
	}
	return q
}

// buildProjection renders a field projection, always excluding the driver's
// _id. Returns nil when no projection is needed so Find uses the default.
func buildProjection(fields []string) bson.M {
	if len(fields) == 0 {
		return nil
	}
	proj := bson.M{"_id": 0}
	for _, f := range fields {
		proj[f] = 1
	}
	return proj
}
