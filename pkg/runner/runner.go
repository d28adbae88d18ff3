// Package runner executes an ExecutionPlan layer by layer (spec §4.7): for
// each job it gates on upstream failures, resolves its artefact inputs,
// evaluates conditions, materialises fan-in groups, invokes the Produce
// capability, persists the resulting blobs, and appends events. It never
// mutates the event log's past — every outcome, success or failure, is
// recorded and the run continues.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/renku/pipeline-engine/pkg/blobstore"
	"github.com/renku/pipeline-engine/pkg/errs"
	"github.com/renku/pipeline-engine/pkg/eventlog"
	"github.com/renku/pipeline-engine/pkg/manifest"
	"github.com/renku/pipeline-engine/pkg/plan"
	"github.com/renku/pipeline-engine/pkg/produce"
	"github.com/renku/pipeline-engine/pkg/producergraph"
)

// Options parameterises Run.
type Options struct {
	MovieID    string
	EventLog   eventlog.Log
	StorageCtx *blobstore.Context
	Produce    produce.Func
	Clock      manifest.Clock

	// PreviousManifestHash gates the final SaveManifest the way plan.Build's
	// manifestBaseHash gates the plan: the run only commits its rebuilt
	// manifest if no concurrent writer moved the pointer first. Empty skips
	// the check.
	PreviousManifestHash string
}

// JobResult is one job's outcome within a Run.
type JobResult struct {
	JobID       string
	Status      eventlog.Status
	Diagnostics *eventlog.Diagnostics
}

// Result is a completed Run's outcome.
type Result struct {
	Jobs     []JobResult
	Manifest *manifest.Manifest
}

// Run executes every layer of p sequentially; jobs within a layer run
// sequentially too (spec §4.7: "an implementation may parallelise within a
// layer provided it preserves layer ordering, event-log append order, and
// the running-manifest semantics").
func Run(ctx context.Context, p *plan.ExecutionPlan, opts Options) (*Result, error) {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	var results []JobResult
	for layerIndex, layer := range p.Layers {
		for _, job := range layer {
			res, err := runJob(ctx, job, layerIndex, p.Revision, opts, clock)
			if err != nil {
				return nil, errs.Wrap(errs.CategoryRuntime, errs.ArtifactResolutionFailed, err, "job %s: fatal runner error", job.JobID)
			}
			results = append(results, *res)
		}
	}

	finalManifest, err := manifest.BuildFromEvents(ctx, opts.EventLog, manifest.BuildOptions{
		MovieID:        opts.MovieID,
		TargetRevision: p.Revision,
		BaseRevision:   "",
		Clock:          clock,
	})
	if err != nil {
		return nil, fmt.Errorf("runner: rebuild manifest: %w", err)
	}
	if err := manifest.SaveManifest(ctx, opts.StorageCtx, finalManifest, manifest.SaveOptions{PreviousHash: opts.PreviousManifestHash}); err != nil {
		return nil, fmt.Errorf("runner: save manifest: %w", err)
	}

	return &Result{Jobs: results, Manifest: finalManifest}, nil
}

// runJob executes steps 1-11 of spec §4.7 for a single job.
func runJob(ctx context.Context, job *producergraph.Job, layerIndex int, revision string, opts Options, clock manifest.Clock) (*JobResult, error) {
	latestArtefacts, err := opts.EventLog.LatestArtefacts(ctx, opts.MovieID)
	if err != nil {
		return nil, fmt.Errorf("runner: load latest artefacts: %w", err)
	}
	latestInputs, err := opts.EventLog.LatestInputs(ctx, opts.MovieID)
	if err != nil {
		return nil, fmt.Errorf("runner: load latest inputs: %w", err)
	}

	required := requiredArtefactIDs(job)

	// Step 2: upstream-failure gate.
	var failedUpstream []string
	for _, id := range required {
		if ev, ok := latestArtefacts[id]; ok && ev.Status == eventlog.StatusFailed {
			failedUpstream = append(failedUpstream, id)
		}
	}
	if len(failedUpstream) > 0 {
		diag := &eventlog.Diagnostics{
			Reason:                  "upstream_failure",
			FailedUpstreamArtifacts: failedUpstream,
		}
		if err := appendJobEvents(ctx, opts, job, job.Produces, revision, eventlog.StatusFailed, nil, diag, clock); err != nil {
			return nil, err
		}
		return &JobResult{JobID: job.JobID, Status: eventlog.StatusFailed, Diagnostics: diag}, nil
	}

	// Step 3: resolve artefacts into a resolvedInputs environment.
	resolvedInputs, err := resolveArtefactEnv(ctx, opts.StorageCtx, latestArtefacts, required)
	if err != nil {
		return nil, fmt.Errorf("runner: resolve artefacts for %s: %w", job.JobID, err)
	}

	// Step 4: evaluate input conditions.
	effectiveInputs, skip, skipReason, err := evaluateConditions(job, resolvedInputs)
	if err != nil {
		return nil, fmt.Errorf("runner: evaluate conditions for %s: %w", job.JobID, err)
	}
	if skip {
		diag := &eventlog.Diagnostics{Reason: skipReason}
		if err := appendJobEvents(ctx, opts, job, job.Produces, revision, eventlog.StatusSkipped, nil, diag, clock); err != nil {
			return nil, err
		}
		return &JobResult{JobID: job.JobID, Status: eventlog.StatusSkipped, Diagnostics: diag}, nil
	}

	// Step 5: materialise fan-in groups.
	materializeFanIn(job, resolvedInputs)

	// Step 6: resolve asset blob paths (survives stale manifests).
	assetBlobPaths, err := resolveAssetBlobPaths(ctx, opts.StorageCtx, latestArtefacts, resolvedInputs)
	if err != nil {
		return nil, fmt.Errorf("runner: resolve asset blob paths for %s: %w", job.JobID, err)
	}

	// Step 7: resolve BlobRefs to BlobInputs (actual bytes).
	if err := resolveBlobRefs(ctx, opts.StorageCtx, resolvedInputs); err != nil {
		return nil, fmt.Errorf("runner: resolve blob payloads for %s: %w", job.JobID, err)
	}

	job.Context.Extras.ResolvedInputs = resolvedInputs
	job.Context.Extras.AssetBlobPaths = assetBlobPaths

	inputsHash, err := plan.HashInputContents(effectiveInputs, latestInputs, latestArtefacts)
	if err != nil {
		return nil, fmt.Errorf("runner: hash inputs for %s: %w", job.JobID, err)
	}

	// Step 8: invoke Produce.
	produceResult, produceErr := opts.Produce(ctx, produce.Request{
		MovieID:    opts.MovieID,
		Job:        job,
		LayerIndex: layerIndex,
		Attempt:    1,
		Revision:   revision,
	})

	// Steps 9-10: materialise artefacts and derive job status.
	return persistProduceResult(ctx, opts, job, revision, inputsHash, produceResult, produceErr, clock)
}

func persistProduceResult(ctx context.Context, opts Options, job *producergraph.Job, revision, inputsHash string, result produce.Result, produceErr error, clock manifest.Clock) (*JobResult, error) {
	if produceErr != nil {
		diag := &eventlog.Diagnostics{Reason: "producer_error", Error: produceErr.Error()}
		if err := appendJobEvents(ctx, opts, job, job.Produces, revision, eventlog.StatusFailed, nil, diag, clock); err != nil {
			return nil, err
		}
		return &JobResult{JobID: job.JobID, Status: eventlog.StatusFailed, Diagnostics: diag}, nil
	}

	byArtefact := make(map[string]produce.ArtefactResult, len(result.Artefacts))
	for _, ar := range result.Artefacts {
		byArtefact[ar.ArtefactID] = ar
	}

	anyFailed := result.Status == produce.StatusFailed
	allSkipped := true
	for _, artifactID := range job.Produces {
		ar, ok := byArtefact[artifactID]
		if !ok {
			ar = produce.ArtefactResult{ArtefactID: artifactID, Status: produce.StatusSkipped}
		}

		var ev eventlog.ArtefactEvent
		ev.ArtefactID = artifactID
		ev.Revision = revision
		ev.InputsHash = inputsHash
		ev.ProducedBy = job.JobID
		ev.CreatedAt = clock()

		switch ar.Status {
		case produce.StatusSucceeded:
			if ar.Blob == nil {
				ev.Status = eventlog.StatusFailed
				ev.Diagnostics = &eventlog.Diagnostics{
					Code:  string(errs.MissingBlobPayload),
					Error: fmt.Sprintf("producer reported artefact %s succeeded with no blob", artifactID),
				}
				anyFailed = true
				allSkipped = false
				break
			}
			blobRef, err := blobstore.PersistBlobToStorage(ctx, opts.StorageCtx, ar.Blob.Data, ar.Blob.MimeType)
			if err != nil {
				return nil, fmt.Errorf("runner: persist blob for %s: %w", artifactID, err)
			}
			ev.Status = eventlog.StatusSucceeded
			ev.Output = eventlog.Output{Blob: &eventlog.BlobRef{Hash: blobRef.Hash, Size: blobRef.Size, MimeType: blobRef.MimeType}}
			allSkipped = false
		case produce.StatusFailed:
			ev.Status = eventlog.StatusFailed
			ev.Diagnostics = ar.Diagnostics
			anyFailed = true
			allSkipped = false
		default:
			ev.Status = eventlog.StatusSkipped
			ev.Diagnostics = ar.Diagnostics
		}

		if err := opts.EventLog.AppendArtefact(ctx, opts.MovieID, ev); err != nil {
			return nil, fmt.Errorf("runner: append artefact event for %s: %w", artifactID, err)
		}
	}

	status := eventlog.StatusSucceeded
	switch {
	case anyFailed:
		status = eventlog.StatusFailed
	case allSkipped && result.Status != produce.StatusSucceeded:
		status = eventlog.StatusSkipped
	}

	return &JobResult{JobID: job.JobID, Status: status, Diagnostics: result.Diagnostics}, nil
}

// appendJobEvents appends an identical ArtefactEvent for every id in
// artifactIDs, used by the upstream-failure gate and the conditions-not-met
// skip path, both of which short-circuit before invoking Produce.
func appendJobEvents(ctx context.Context, opts Options, job *producergraph.Job, artifactIDs []string, revision string, status eventlog.Status, blob *eventlog.BlobRef, diag *eventlog.Diagnostics, clock manifest.Clock) error {
	for _, artifactID := range artifactIDs {
		ev := eventlog.ArtefactEvent{
			ArtefactID:  artifactID,
			Revision:    revision,
			ProducedBy:  job.JobID,
			Status:      status,
			Diagnostics: diag,
			CreatedAt:   clock(),
		}
		if blob != nil {
			ev.Output = eventlog.Output{Blob: blob}
		}
		if err := opts.EventLog.AppendArtefact(ctx, opts.MovieID, ev); err != nil {
			return fmt.Errorf("runner: append artefact event for %s: %w", artifactID, err)
		}
	}
	return nil
}
