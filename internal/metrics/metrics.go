// Package metrics decouples the catalog service from any particular metrics
// vendor. The service emits named counters and histogram samples through a
// process-global Backend; wiring a concrete backend (Datadog) happens once
// at startup.
package metrics

import "sync"

// Labels attaches low-cardinality dimensions to a metric observation.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer locally and submit in
// batches.
type Flusher interface {
	Flush() error
}

// Metric names used across the service. Centralized so dashboards and code
// stay in sync.
const (
	IngestTotal          = "datacat_ingest_total"            // labels: stage, status
	RecordsTotal         = "datacat_records_total"           // labels: storage
	BatchesTotal         = "datacat_batches_total"           //
	CacheTotal           = "datacat_cache_total"             // labels: op, outcome
	IngestDurationSecs   = "datacat_ingest_duration_seconds" // labels: stage, status
	RetrieveDurationSecs = "datacat_retrieve_duration_seconds"
)

var (
	mu      sync.RWMutex
	backend Backend
)

// SetBackend installs the process-wide backend. Passing nil disables metric
// emission (the default).
func SetBackend(b Backend) {
	mu.Lock()
	backend = b
	mu.Unlock()
}

// IncCounter forwards to the installed backend, if any.
func IncCounter(name string, delta float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	if b != nil {
		b.IncCounter(name, delta, labels)
	}
}

// ObserveHistogram forwards to the installed backend, if any.
func ObserveHistogram(name string, value float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	if b != nil {
		b.ObserveHistogram(name, value, labels)
	}
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	mu.RLock()
	b := backend
	mu.RUnlock()
	if f, ok := b.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
