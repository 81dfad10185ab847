package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"datacat/internal/schema"
	"datacat/internal/storage"
)

// Store implements storage.DocumentStore on MongoDB.
//
// Layout: one fixed "datasets" collection for catalog entries, plus one data
// collection per dataset named after the dataset's entity name. Dropping a
// dataset drops its collection outright, which is cheaper than a filtered
// delete and leaves no tombstones.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

const catalogCollection = "datasets"

func init() {
	storage.RegisterDocument("mongo", New)
}

// New connects, pings, and selects the configured database.
func New(ctx context.Context, cfg storage.Config) (storage.DocumentStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	name := cfg.Database
	if name == "" {
		name = "datacat"
	}
	return &Store{client: client, db: client.Database(name)}, nil
}

func (s *Store) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Disconnect(ctx)
}

// Kind implements storage.CatalogStore.
func (s *Store) Kind() schema.Storage { return schema.StorageDocument }

// catalogDoc is the BSON shape of a catalog entry. The dataset ID doubles as
// the document _id so lookups hit the default index.
type catalogDoc struct {
	ID          string            `bson:"_id"`
	Name        string            `bson:"name"`
	Size        int64             `bson:"size"`
	MediaType   string            `bson:"media_type"`
	Category    string            `bson:"category"`
	Storage     string            `bson:"storage"`
	RecordCount int64             `bson:"record_count"`
	Schema      *schema.Generated `bson:"dataset_schema,omitempty"`
	Metadata    map[string]any    `bson:"metadata"`
	Tags        []string          `bson:"tags"`
	Description string            `bson:"description"`
	CreatedAt   time.Time         `bson:"created_at"`
	UpdatedAt   time.Time         `bson:"updated_at"`
}

func toDoc(e *storage.Entry) *catalogDoc {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	return &catalogDoc{
		ID:          e.ID,
		Name:        e.Name,
		Size:        e.Size,
		MediaType:   e.MediaType,
		Category:    e.Category,
		Storage:     string(e.Storage),
		RecordCount: e.RecordCount,
		Schema:      e.Schema,
		Metadata:    meta,
		Tags:        tags,
		Description: e.Description,
		CreatedAt:   e.CreatedAt.UTC(),
		UpdatedAt:   e.UpdatedAt.UTC(),
	}
}

func fromDoc(d *catalogDoc) *storage.Entry {
	return &storage.Entry{
		ID:          d.ID,
		Name:        d.Name,
		Size:        d.Size,
		MediaType:   d.MediaType,
		Category:    d.Category,
		Storage:     schema.Storage(d.Storage),
		RecordCount: d.RecordCount,
		Schema:      d.Schema,
		Metadata:    d.Metadata,
		Tags:        d.Tags,
		Description: d.Description,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// Insert implements storage.CatalogStore.
func (s *Store) Insert(ctx context.Context, e *storage.Entry) error {
	_, err := s.db.Collection(catalogCollection).InsertOne(ctx, toDoc(e))
	if err != nil {
		return fmt.Errorf("mongo: insert catalog entry %s: %w", e.ID, err)
	}
	return nil
}

// Get implements storage.CatalogStore.
func (s *Store) Get(ctx context.Context, id string) (*storage.Entry, error) {
	var d catalogDoc
	err := s.db.Collection(catalogCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%w: mongo: get %s: %v", storage.ErrUnavailable, id, err)
	}
	return fromDoc(&d), nil
}

// List implements storage.CatalogStore.
func (s *Store) List(ctx context.Context, f storage.Filters) ([]*storage.Entry, error) {
	cur, err := s.db.Collection(catalogCollection).Find(ctx, buildListFilter(f))
	if err != nil {
		return nil, fmt.Errorf("%w: mongo: list: %v", storage.ErrUnavailable, err)
	}
	return collectEntries(ctx, cur)
}

// Update implements storage.CatalogStore. Returns the post-update entry.
func (s *Store) Update(ctx context.Context, id string, p storage.EntryPatch) (*storage.Entry, error) {
	if p.Empty() {
		return nil, fmt.Errorf("mongo: empty patch for %s", id)
	}

	after := options.After
	var d catalogDoc
	err := s.db.Collection(catalogCollection).FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": buildPatchSet(p, time.Now().UTC())},
		options.FindOneAndUpdate().SetReturnDocument(after),
	).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%w: mongo: update %s: %v", storage.ErrUnavailable, id, err)
	}
	return fromDoc(&d), nil
}

// Delete implements storage.CatalogStore.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.Collection(catalogCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("%w: mongo: delete %s: %v", storage.ErrUnavailable, id, err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Search implements storage.CatalogStore using a case-insensitive substring
// match over name, description, and tags.
func (s *Store) Search(ctx context.Context, keyword string, limit int) ([]*storage.Entry, error) {
	if limit <= 0 {
		limit = 25
	}

	cur, err := s.db.Collection(catalogCollection).Find(ctx,
		buildSearchFilter(keyword),
		options.Find().SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: mongo: search: %v", storage.ErrUnavailable, err)
	}
	return collectEntries(ctx, cur)
}

func collectEntries(ctx context.Context, cur *mongo.Cursor) ([]*storage.Entry, error) {
	defer cur.Close(ctx)

	out := []*storage.Entry{}
	for cur.Next(ctx) {
		var d catalogDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("mongo: decode catalog entry: %w", err)
		}
		out = append(out, fromDoc(&d))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%w: mongo: cursor: %v", storage.ErrUnavailable, err)
	}
	return out, nil
}

// buildListFilter translates catalog filters into a BSON query document.
// Pure so the mapping is unit testable without a server.
func buildListFilter(f storage.Filters) bson.M {
	q := bson.M{}
	if f.Category != "" {
		q["category"] = f.Category
	}
	if f.MediaType != "" {
		q["media_type"] = f.MediaType
	}
	if f.Storage != "" {
		q["storage"] = string(f.Storage)
	}
	return q
}

// buildSearchFilter renders the keyword as an anchored-nowhere, quoted regex
// so metacharacters in user input match literally.
func buildSearchFilter(keyword string) bson.M {
	re := bson.M{"$regex": regexp.QuoteMeta(keyword), "$options": "i"}
	return bson.M{"$or": bson.A{
		bson.M{"name": re},
		bson.M{"description": re},
		bson.M{"tags": re},
	}}
}

// buildPatchSet renders the partial update document.
func buildPatchSet(p storage.EntryPatch, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	if p.Description != nil {
		set["description"] = *p.Description
	}
	if p.Tags != nil {
		set["tags"] = p.Tags
	}
	if p.Metadata != nil {
		set["metadata"] = p.Metadata
	}
	return set
}
