package catalog

import (
	"errors"
	"fmt"
)

// Stage identifies which phase of an ingest failed. Stages are part of the
// operational contract: they appear in logs, metrics and error messages.
type Stage string

const (
	StageProfile Stage = "profile"
	StageSchema  Stage = "schema"
	StageWrite   Stage = "write"
	StageCatalog Stage = "catalog"
)

// IngestError wraps a failure with the stage it happened in, so callers can
// tell a schema problem (caller's data) from a write problem (operational).
type IngestError struct {
	Stage Stage
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest failed at %s: %v", e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

func ingestErr(stage Stage, err error) error {
	return &IngestError{Stage: stage, Err: err}
}

// ErrNoRecords is returned when an ingest carries nothing to store.
var ErrNoRecords = errors.New("catalog: no records to ingest")
