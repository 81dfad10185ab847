// Command datacat ingests JSON datasets and manages the dataset catalog.
//
// Usage:
//
//	datacat [-config path] <command> [flags]
//
// Commands:
//
//	ingest    profile a JSON file, pick a backend, store it, register it
//	get       print one catalog entry
//	list      print catalog entries, filtered and paginated
//	search    keyword search over names, descriptions and tags
//	update    patch tags/description/metadata of an entry
//	delete    remove a dataset and its data
//	retrieve  print a dataset's records in their original shape
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"datacat/internal/cache"
	"datacat/internal/catalog"
	"datacat/internal/config"
	"datacat/internal/metrics"
	"datacat/internal/metrics/datadog"
	jsonparser "datacat/internal/parser/json"
	"datacat/internal/schema"
	"datacat/internal/storage"

	// Registered backends.
	_ "datacat/internal/storage/mongo"
	_ "datacat/internal/storage/postgres"
	_ "datacat/internal/storage/sqlite"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("datacat", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "path to config JSON (optional)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: datacat [-config path] <ingest|get|list|search|update|delete|retrieve> [flags]")
		return 2
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	log := newLogger(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	svc, cleanup, err := buildService(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		return 1
	}
	defer cleanup()

	cmd, cmdArgs := rest[0], rest[1:]
	if err := dispatch(ctx, svc, cmd, cmdArgs); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		return 1
	}
	return 0
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// buildService connects every dependency up front. Connecting is explicit:
// a store that cannot be reached fails the command before any work starts.
func buildService(ctx context.Context, cfg config.Config, log zerolog.Logger) (*catalog.Service, func(), error) {
	rel, err := storage.NewRelational(ctx, storage.Config{
		Kind: cfg.Relational.Kind,
		DSN:  cfg.Relational.DSN,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("relational store (%s): %w", cfg.Relational.Kind, err)
	}

	doc, err := storage.NewDocument(ctx, storage.Config{
		Kind:     cfg.Document.Kind,
		DSN:      cfg.Document.URI,
		Database: cfg.Document.Database,
	})
	if err != nil {
		rel.Close()
		return nil, nil, fmt.Errorf("document store (%s): %w", cfg.Document.Kind, err)
	}

	var c cache.Cache = cache.Noop{}
	if !cfg.Cache.Disabled {
		rc, err := cache.NewRedis(ctx, cfg.Cache.Addr, log)
		if err != nil {
			// The cache is best effort even at startup.
			log.Warn().Err(err).Str("addr", cfg.Cache.Addr).Msg("redis unavailable, caching disabled")
		} else {
			c = rc
		}
	}

	var closeMetrics func()
	if cfg.Metrics.Enabled {
		backend, err := datadog.NewBackend(ctx, datadog.Options{
			JobName: cfg.Metrics.JobName,
			Tags:    datadog.ParseTagsCSV(cfg.Metrics.TagsCSV),
		})
		if err != nil {
			log.Warn().Err(err).Msg("metrics backend init failed, continuing without metrics")
		} else {
			metrics.SetBackend(backend)
			closeMetrics = func() {
				_ = metrics.Flush()
				_ = backend.Close()
			}
		}
	}

	svc := catalog.New(rel, doc, c, catalog.Options{
		BatchSize:  cfg.BatchSize,
		SampleSize: cfg.SampleSize,
		CacheTTL:   cfg.Cache.TTL,
		Logger:     log,
	})

	cleanup := func() {
		if closeMetrics != nil {
			closeMetrics()
		}
		c.Close()
		doc.Close()
		rel.Close()
	}
	return svc, cleanup, nil
}

func dispatch(ctx context.Context, svc *catalog.Service, cmd string, args []string) error {
	switch cmd {
	case "ingest":
		return cmdIngest(ctx, svc, args)
	case "get":
		return cmdGet(ctx, svc, args)
	case "list":
		return cmdList(ctx, svc, args)
	case "search":
		return cmdSearch(ctx, svc, args)
	case "update":
		return cmdUpdate(ctx, svc, args)
	case "delete":
		return cmdDelete(ctx, svc, args)
	case "retrieve":
		return cmdRetrieve(ctx, svc, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdIngest(ctx context.Context, svc *catalog.Service, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	file := fs.String("file", "", "path to JSON payload (object or array of objects)")
	name := fs.String("name", "", "dataset name")
	category := fs.String("category", "", "dataset category")
	tagsCSV := fs.String("tags", "", "comma-separated tags")
	desc := fs.String("description", "", "dataset description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" || *name == "" {
		return errors.New("-file and -name are required")
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	records, err := jsonparser.CollectRecords(ctx, f, func(i int, reason string) {
		fmt.Fprintf(os.Stderr, "skipping element %d: %s\n", i, reason)
	})
	if err != nil {
		return fmt.Errorf("parse %s: %w", *file, err)
	}

	entry, err := svc.CreateDataset(ctx, catalog.IngestInput{
		Name:        *name,
		Category:    *category,
		MediaType:   "application/json",
		Description: *desc,
		Tags:        splitCSV(*tagsCSV),
		Size:        info.Size(),
		Records:     records,
	})
	if err != nil {
		return err
	}
	return printJSON(entry)
}

func cmdGet(ctx context.Context, svc *catalog.Service, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	id := fs.String("id", "", "dataset id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}

	entry, err := svc.Get(ctx, *id)
	if err != nil {
		return err
	}
	return printJSON(entry)
}

func cmdList(ctx context.Context, svc *catalog.Service, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	category := fs.String("category", "", "filter by category")
	mediaType := fs.String("media-type", "", "filter by media type")
	kind := fs.String("storage", "", "filter by storage kind (relational|document)")
	sortBy := fs.String("sort", "", "sort key: created_at (default), name, size, record_count")
	desc := fs.Bool("desc", false, "sort descending")
	limit := fs.Int("limit", 20, "page size")
	offset := fs.Int("offset", 0, "page offset")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := svc.List(ctx,
		storage.Filters{
			Category:  *category,
			MediaType: *mediaType,
			Storage:   parseStorage(*kind),
		},
		storage.Page{SortBy: *sortBy, Descending: *desc, Limit: *limit, Offset: *offset},
	)
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func cmdSearch(ctx context.Context, svc *catalog.Service, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	keyword := fs.String("q", "", "search keyword")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyword == "" {
		return errors.New("-q is required")
	}

	entries, err := svc.Search(ctx, *keyword)
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func cmdUpdate(ctx context.Context, svc *catalog.Service, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	id := fs.String("id", "", "dataset id")
	desc := fs.String("description", "", "new description")
	tagsCSV := fs.String("tags", "", "replacement tags, comma-separated")
	metaJSON := fs.String("metadata", "", "replacement metadata as a JSON object")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}

	var patch storage.EntryPatch
	if visited(fs, "description") {
		patch.Description = desc
	}
	if visited(fs, "tags") {
		patch.Tags = splitCSV(*tagsCSV)
	}
	if *metaJSON != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(*metaJSON), &m); err != nil {
			return fmt.Errorf("parse -metadata: %w", err)
		}
		patch.Metadata = m
	}

	entry, err := svc.Update(ctx, *id, patch)
	if err != nil {
		return err
	}
	return printJSON(entry)
}

func cmdDelete(ctx context.Context, svc *catalog.Service, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	id := fs.String("id", "", "dataset id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}
	return svc.Delete(ctx, *id)
}

func cmdRetrieve(ctx context.Context, svc *catalog.Service, args []string) error {
	fs := flag.NewFlagSet("retrieve", flag.ContinueOnError)
	id := fs.String("id", "", "dataset id")
	filterJSON := fs.String("filter", "", "equality filter as a JSON object")
	fieldsCSV := fs.String("fields", "", "comma-separated field projection")
	sortBy := fs.String("sort", "", "sort field")
	limit := fs.Int("limit", 100, "max records")
	offset := fs.Int("offset", 0, "records to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}

	q := catalog.RetrieveQuery{
		Fields: splitCSV(*fieldsCSV),
		SortBy: *sortBy,
		Limit:  *limit,
		Offset: *offset,
	}
	if *filterJSON != "" {
		if err := json.Unmarshal([]byte(*filterJSON), &q.Filter); err != nil {
			return fmt.Errorf("parse -filter: %w", err)
		}
	}

	records, err := svc.Retrieve(ctx, *id, q)
	if err != nil {
		return err
	}
	return printJSON(records)
}

func parseStorage(s string) schema.Storage {
	return schema.Storage(s)
}

func visited(fs *flag.FlagSet, name string) bool {
	seen := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			seen = true
		}
	})
	return seen
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
