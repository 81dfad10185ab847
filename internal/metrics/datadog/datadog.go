// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// The backend buffers observations in memory, submits them on a ticker
// (default: once per minute), and flushes one final time on Close(). This
// produces a real time series for long-running services while still covering
// short-lived CLI invocations with the tail flush.
//
// Concurrency model:
//   - any goroutine may call IncCounter/ObserveHistogram at any time
//   - Flush snapshots+resets buffers under a mutex, then submits out-of-lock
//   - the flush loop calls Flush() periodically; Close() stops the loop
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"datacat/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to
	// "datacat".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// Defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets these; tests use
	// them to avoid real network submission and nondeterministic clocks.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal slice of the Datadog SDK needed to submit
// metrics. The SDK exposes a concrete *datadogV2.MetricsApi, which cannot be
// stubbed without real HTTP; depending on this tiny interface keeps the
// backend testable.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	ingestCounts map[string]float64   // stage\x00status -> count
	recordCounts map[string]float64   // storage kind -> count
	cacheCounts  map[string]float64   // op\x00outcome -> count
	batchCount   float64              //
	ingestDur    map[string][]float64 // stage\x00status -> samples
	retrieveDur  []float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client.
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "datacat".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
//
// Network errors surface from Flush(), not from construction.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "datacat"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),

		baseTags: baseTags,

		now:       nowFn,
		newTicker: newTicker,

		ingestCounts: make(map[string]float64),
		recordCounts: make(map[string]float64),
		cacheCounts:  make(map[string]float64),
		ingestDur:    make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush().
// Close once; a second Close panics on the closed channel, matching typical
// process-lifetime Close semantics.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown metric names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.IngestTotal:
		b.ingestCounts[pairKey(labels["stage"], labels["status"])] += delta

	case metrics.RecordsTotal:
		kind := labels["storage"]
		if kind == "" {
			return
		}
		b.recordCounts[kind] += delta

	case metrics.BatchesTotal:
		b.batchCount += delta

	case metrics.CacheTotal:
		b.cacheCounts[pairKey(labels["op"], labels["outcome"])] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Unknown metric names are
// ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.IngestDurationSecs:
		k := pairKey(labels["stage"], labels["status"])
		b.ingestDur[k] = append(b.ingestDur[k], value)

	case metrics.RetrieveDurationSecs:
		b.retrieveDur = append(b.retrieveDur, value)
	}
}

// snapshot is the detached buffered state a single Flush submits. Flush must
// reset buffers under the lock but submit out-of-lock; snapshot separates
// collect+reset from payload building.
type snapshot struct {
	ingestCounts map[string]float64
	recordCounts map[string]float64
	cacheCounts  map[string]float64
	batchCount   float64
	ingestDur    map[string][]float64
	retrieveDur  []float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		ingestCounts: b.ingestCounts,
		recordCounts: b.recordCounts,
		cacheCounts:  b.cacheCounts,
		batchCount:   b.batchCount,
		ingestDur:    b.ingestDur,
		retrieveDur:  b.retrieveDur,
	}

	b.ingestCounts = make(map[string]float64)
	b.recordCounts = make(map[string]float64)
	b.cacheCounts = make(map[string]float64)
	b.batchCount = 0
	b.ingestDur = make(map[string][]float64)
	b.retrieveDur = nil

	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.ingestCounts) == 0 &&
		len(s.recordCounts) == 0 &&
		len(s.cacheCounts) == 0 &&
		s.batchCount == 0 &&
		len(s.ingestDur) == 0 &&
		len(s.retrieveDur) == 0
}

// Flush submits buffered metrics and resets local buffers.
//
// Edge cases:
//   - Returns nil when there is nothing to submit.
//   - Buffers are reset even if submission fails, so a Datadog outage never
//     grows memory unbounded. Delivery is best effort.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs Datadog series for a snapshot at a fixed timestamp.
// Pure (no locks, no network, no clocks) so naming and tagging behavior is
// unit testable.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.ingestCounts)+len(s.recordCounts)+16)

	for k, v := range s.ingestCounts {
		if v == 0 {
			continue
		}
		stage, status := splitPairKey(k)
		tags := withTags(b.baseTags, "stage:"+stage, "status:"+status)
		series = append(series, countSeries("datacat.ingest.total", v, tags, nowUnix))
	}

	for kind, v := range s.recordCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "storage:"+kind)
		series = append(series, countSeries("datacat.records.total", v, tags, nowUnix))
	}

	for k, v := range s.cacheCounts {
		if v == 0 {
			continue
		}
		op, outcome := splitPairKey(k)
		tags := withTags(b.baseTags, "op:"+op, "outcome:"+outcome)
		series = append(series, countSeries("datacat.cache.total", v, tags, nowUnix))
	}

	if s.batchCount != 0 {
		series = append(series, countSeries("datacat.batches.total", s.batchCount, b.baseTags, nowUnix))
	}

	for k, samples := range s.ingestDur {
		stage, status := splitPairKey(k)
		tags := withTags(b.baseTags, "stage:"+stage, "status:"+status)
		addPercentiles(&series, "datacat.ingest.duration_seconds", samples, tags, nowUnix)
	}

	addPercentiles(&series, "datacat.retrieve.duration_seconds", s.retrieveDur, b.baseTags, nowUnix)

	return series
}

// addPercentiles appends a fixed set of percentile gauges for a sample set.
// Sorts a copy; does nothing for an empty set.
func addPercentiles(series *[]datadogV2.MetricSeries, metricPrefix string, samples []float64, tags []string, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series, gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix))
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func splitPairKey(k string) (a, b string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:datacat".
func ParseTagsCSV(s string) []string {
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
