// Package produce defines the opaque producer capability boundary (spec §6
// "Producer capability") the Runner invokes once per job, plus a
// deterministic in-memory adapter for tests and dry runs. A real adapter
// (calling OpenAI/Replicate/WaveSpeed, etc.) implements the same Func type;
// the core engine never imports one.
package produce

import (
	"context"

	"github.com/renku/pipeline-engine/pkg/eventlog"
	"github.com/renku/pipeline-engine/pkg/producergraph"
)

// Status mirrors eventlog.Status for a ProduceResult/ArtefactResult, kept as
// a distinct type since a producer adapter is an external boundary and
// shouldn't reach into the event log's package for its vocabulary.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Blob is a produced artefact's raw payload before it is hashed and
// persisted (spec §6 "blob?:{data,mimeType}").
type Blob struct {
	Data     []byte
	MimeType string
}

// ArtefactResult is one produced (or explicitly failed/skipped) artefact.
type ArtefactResult struct {
	ArtefactID  string
	Status      Status
	Blob        *Blob
	Diagnostics *eventlog.Diagnostics
}

// Request is what the Runner hands the producer capability for one job
// (spec §6 "Request fields: movieId, job: JobDescriptor, layerIndex,
// attempt, revision").
type Request struct {
	MovieID    string
	Job        *producergraph.Job
	LayerIndex int
	Attempt    int
	Revision   string
}

// Result is the producer capability's reply (spec §6 "Result").
type Result struct {
	JobID       string
	Status      Status
	Artefacts   []ArtefactResult
	Diagnostics *eventlog.Diagnostics
}

// Func is the producer capability boundary itself: an opaque function the
// Runner calls once per job, with no assumption about what's behind it
// (a generative model API, a local renderer, a test double).
type Func func(ctx context.Context, req Request) (Result, error)
