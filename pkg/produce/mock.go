package produce

import (
	"context"
	"fmt"
	"sync"

	"github.com/renku/pipeline-engine/pkg/hashing"
)

// Handler produces one job's artefacts given its already-resolved inputs,
// without any of the Request/Result envelope plumbing. MockRegistry adapts a
// per-producer-alias map of these into a Func.
type Handler func(ctx context.Context, req Request) (Result, error)

// MockRegistry dispatches to a Handler by producer alias, grounded on
// pkg/operators/registry.go's Registry: a mutex-guarded map. It has no
// default instance and no package-level wrappers.
type MockRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewMockRegistry returns an empty registry.
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{handlers: make(map[string]Handler)}
}

// Register binds a producer alias to a Handler.
func (r *MockRegistry) Register(alias string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[alias] = h
}

// Func returns a Func that dispatches each request by its job's
// ProducerAlias, falling back to DeterministicHandler when none is
// registered.
func (r *MockRegistry) Func() Func {
	return func(ctx context.Context, req Request) (Result, error) {
		r.mu.RLock()
		h, ok := r.handlers[req.Job.Context.ProducerAlias]
		r.mu.RUnlock()
		if !ok {
			h = DeterministicHandler
		}
		return h(ctx, req)
	}
}

// DeterministicHandler is a content-addressed stand-in producer: every
// produced artefact's bytes are the stable hash of {jobId, artefactId,
// resolvedInputs}, so repeated calls with identical inputs are
// byte-for-byte reproducible (spec §8 property: deterministic content
// hashing). Used by tests and dry runs that have no real provider wired.
func DeterministicHandler(_ context.Context, req Request) (Result, error) {
	artefacts := make([]ArtefactResult, 0, len(req.Job.Produces))
	for _, artifactID := range req.Job.Produces {
		payload := struct {
			JobID          string                 `json:"jobId"`
			ArtifactID     string                 `json:"artifactId"`
			ResolvedInputs map[string]interface{} `json:"resolvedInputs"`
		}{
			JobID:          req.Job.JobID,
			ArtifactID:     artifactID,
			ResolvedInputs: req.Job.Context.Extras.ResolvedInputs,
		}
		encoded, err := hashing.StableJSON(payload)
		if err != nil {
			return Result{}, fmt.Errorf("produce: mock encode %s: %w", artifactID, err)
		}
		artefacts = append(artefacts, ArtefactResult{
			ArtefactID: artifactID,
			Status:     StatusSucceeded,
			Blob:       &Blob{Data: encoded, MimeType: "application/json"},
		})
	}
	return Result{JobID: req.Job.JobID, Status: StatusSucceeded, Artefacts: artefacts}, nil
}
