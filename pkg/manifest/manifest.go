// Package manifest implements the Manifest service (spec §4.8): the
// reconstruction of a movie's current derived state (latest inputs, latest
// succeeded artefacts) from its event log, and the load/save of the
// "current" manifest pointer. Grounded on pkg/store/store.go's Store
// interface plus a plain data struct with a derived-view method
// (Job.ToJobStatus()): Manifest plays the role of store.Job, and
// BuildFromEvents plays the role of the derived view.
package manifest

import (
	"time"

	"github.com/renku/pipeline-engine/pkg/eventlog"
	"github.com/renku/pipeline-engine/pkg/hashing"
)

// InputEntry is a manifest's recorded state for one input id.
type InputEntry struct {
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
}

// ArtefactEntry is a manifest's recorded state for one succeeded artefact.
type ArtefactEntry struct {
	Hash        string                  `json:"hash"`
	Blob        *eventlog.BlobRef       `json:"blob"`
	ProducedBy  string                  `json:"producedBy"`
	Status      eventlog.Status         `json:"status"`
	InputsHash  string                  `json:"inputsHash"`
	Diagnostics *eventlog.Diagnostics   `json:"diagnostics,omitempty"`
	CreatedAt   time.Time               `json:"createdAt"`
}

// Manifest is the current derived state of a movie (spec §3).
type Manifest struct {
	Revision     string                   `json:"revision"`
	BaseRevision string                   `json:"baseRevision,omitempty"`
	CreatedAt    time.Time                `json:"createdAt"`
	Inputs       map[string]InputEntry    `json:"inputs"`
	Artifacts    map[string]ArtefactEntry `json:"artifacts"`
	Timeline     map[string]interface{}   `json:"timeline"`
}

// InitialRevision is the revision of the empty manifest a movie starts with
// (spec §4.8).
const InitialRevision = "rev-0000"

// Empty returns the empty manifest a movie with no recorded state has.
func Empty() *Manifest {
	return &Manifest{
		Revision:  InitialRevision,
		CreatedAt: time.Time{},
		Inputs:    make(map[string]InputEntry),
		Artifacts: make(map[string]ArtefactEntry),
		Timeline:  make(map[string]interface{}),
	}
}

// IsInitial reports whether m has no recorded inputs (spec §4.6: "If the
// manifest has no inputs (isInitial), every job is dirty").
func (m *Manifest) IsInitial() bool {
	return len(m.Inputs) == 0
}

// Hash computes the manifest's content hash: sha256(stable-serialisation(m))
// (spec §3, §5: "two independent rebuilds from the same log yield
// byte-identical manifests").
func (m *Manifest) Hash() (string, error) {
	return hashing.HashValue(m)
}

// Clock abstracts time.Now for deterministic tests (spec §4.8
// "buildFromEvents({..., clock})").
type Clock func() time.Time

// DeriveArtefactHash computes the stable content hash of an ArtefactEvent
// used as a manifest artefact entry's Hash (spec §3: "every artefact's hash
// equals deriveArtefactHash(event)"). Only the fields that define the
// artefact's observable content participate: CreatedAt and Diagnostics are
// excluded so a retried-but-identical production doesn't appear dirty.
func DeriveArtefactHash(ev eventlog.ArtefactEvent) (string, error) {
	payload := struct {
		ArtefactID string            `json:"artefactId"`
		Blob       *eventlog.BlobRef `json:"blob,omitempty"`
		Status     eventlog.Status   `json:"status"`
		InputsHash string            `json:"inputsHash"`
		ProducedBy string            `json:"producedBy"`
	}{
		ArtefactID: ev.ArtefactID,
		Blob:       ev.Output.Blob,
		Status:     ev.Status,
		InputsHash: ev.InputsHash,
		ProducedBy: ev.ProducedBy,
	}
	return hashing.HashValue(payload)
}
