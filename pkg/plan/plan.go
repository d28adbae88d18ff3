// Package plan implements the dirty-tracking Planner (spec §4.6): given a
// Manifest, an event log, and a ProducerGraph, it decides which jobs must
// run to bring the movie's artefacts up to date, in Bazel/Nix style —
// surgically regenerating only what changed, or everything on a cold start.
package plan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/renku/pipeline-engine/pkg/errs"
	"github.com/renku/pipeline-engine/pkg/eventlog"
	"github.com/renku/pipeline-engine/pkg/hashing"
	"github.com/renku/pipeline-engine/pkg/ids"
	"github.com/renku/pipeline-engine/pkg/manifest"
	"github.com/renku/pipeline-engine/pkg/producergraph"
	"github.com/renku/pipeline-engine/pkg/topology"
)

// PendingEdit is an uncommitted input change the planner should treat as if
// it had already been appended to the event log (spec §4.6 "merge
// pendingEdits (by id, edit wins)").
type PendingEdit struct {
	ID    string
	Value interface{}
}

// ArtifactRegeneration names one surgical regeneration target (spec §4.6
// "artifactRegenerations = [{sourceJobId, targetArtifactId}, ...]").
type ArtifactRegeneration struct {
	SourceJobID     string
	TargetArtifactID string
}

// ReasonKind classifies why a job entered the plan (spec §4.6 step 7).
type ReasonKind string

const (
	ReasonInitial             ReasonKind = "initial"
	ReasonProducesMissing     ReasonKind = "producesMissing"
	ReasonTouchesDirtyInput   ReasonKind = "touchesDirtyInput"
	ReasonTouchesDirtyArtefact ReasonKind = "touchesDirtyArtefact"
	ReasonInputsHashChanged   ReasonKind = "inputsHashChanged"
	ReasonPropagated          ReasonKind = "propagated"
	ReasonForcedReRun         ReasonKind = "forcedReRun"
	ReasonSurgicalTarget      ReasonKind = "surgicalTarget"
)

// JobReason records why a single job was included in the plan.
type JobReason struct {
	Kind      ReasonKind `json:"kind"`
	Missing   []string   `json:"missing,omitempty"`
	Inputs    []string   `json:"inputs,omitempty"`
	Artefacts []string   `json:"artefacts,omitempty"`
	Stale     []string   `json:"stale,omitempty"`
	From      string     `json:"from,omitempty"`
}

// Explanation is the optional audit trail behind a plan (spec §4.6 step 7
// "PlanExplanation").
type Explanation struct {
	DirtyInputs      []string             `json:"dirtyInputs"`
	DirtyArtefacts   []string             `json:"dirtyArtefacts"`
	JobReasons       map[string]JobReason `json:"jobReasons"`
	InitialDirtyJobs []string             `json:"initialDirtyJobs"`
	PropagatedJobs   []string             `json:"propagatedJobs"`
	SurgicalTargets  []string             `json:"surgicalTargets,omitempty"`
}

// ExecutionPlan is the Planner's output (spec §4.6 step 7).
type ExecutionPlan struct {
	Revision            string               `json:"revision"`
	ManifestBaseHash    string               `json:"manifestBaseHash"`
	Layers              [][]*producergraph.Job `json:"layers"`
	CreatedAt           time.Time            `json:"createdAt"`
	BlueprintLayerCount int                  `json:"blueprintLayerCount"`
	Explanation         *Explanation         `json:"explanation,omitempty"`
}

// Options parameterises Build (spec §4.6: "{manifest, eventLog, blueprint
// (ProducerGraph), targetRevision, pendingEdits[], reRunFrom?,
// artifactRegenerations?, upToLayer?, collectExplanation?}").
type Options struct {
	Manifest              *manifest.Manifest
	EventLog              eventlog.Log
	MovieID               string
	Graph                 *producergraph.ProducerGraph
	TargetRevision        string
	PendingEdits          []PendingEdit
	ReRunFrom             *int
	ArtifactRegenerations []ArtifactRegeneration
	UpToLayer             *int
	CollectExplanation    bool
	Clock                 manifest.Clock
}

// HashInputContents computes the stable hash of a job's input contents: the
// canonical JSON hash of the sorted {id: contentHash} map, where an Input id
// contributes its latest event hash and an Artifact id contributes
// deriveArtefactHash of its latest succeeded event (spec §4.6 step 2d). The
// same function is reused by the Runner to stamp each emitted ArtefactEvent's
// InputsHash, so the two always agree.
func HashInputContents(inputIDs []string, latestInputs map[string]eventlog.InputEvent, latestArtefacts map[string]eventlog.ArtefactEvent) (string, error) {
	contents := make(map[string]string, len(inputIDs))
	for _, id := range inputIDs {
		if ids.IsCanonicalArtifactID(id) {
			ev, ok := latestArtefacts[id]
			if !ok || ev.Status != eventlog.StatusSucceeded {
				contents[id] = ""
				continue
			}
			h, err := manifest.DeriveArtefactHash(ev)
			if err != nil {
				return "", err
			}
			contents[id] = h
			continue
		}
		if ev, ok := latestInputs[id]; ok {
			contents[id] = ev.Hash
		} else {
			contents[id] = ""
		}
	}
	return hashing.HashValue(contents)
}

// Build computes an ExecutionPlan (spec §4.6).
func Build(ctx context.Context, opts Options) (*ExecutionPlan, error) {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	m := opts.Manifest
	if m == nil {
		m = manifest.Empty()
	}

	inputEvents, err := opts.EventLog.AllInputs(ctx, opts.MovieID)
	if err != nil {
		return nil, fmt.Errorf("plan: load input events: %w", err)
	}
	artefactEvents, err := opts.EventLog.AllArtefacts(ctx, opts.MovieID)
	if err != nil {
		return nil, fmt.Errorf("plan: load artefact events: %w", err)
	}
	latestInputs := eventlog.LatestInputsFrom(inputEvents)
	latestArtefacts := eventlog.LatestArtefactsFrom(artefactEvents)

	for _, edit := range opts.PendingEdits {
		hash, err := hashing.HashValue(edit.Value)
		if err != nil {
			return nil, fmt.Errorf("plan: hash pending edit %s: %w", edit.ID, err)
		}
		latestInputs[edit.ID] = eventlog.InputEvent{ID: edit.ID, Hash: hash, Value: edit.Value, CreatedAt: clock()}
	}

	dirtyInputs := dirtyInputSet(m, latestInputs)
	dirtyArtefacts := dirtyArtefactSet(m, latestArtefacts)

	jobReasons := make(map[string]JobReason)
	included := make(map[string]bool)
	var initialDirty []string

	isInitial := m.IsInitial()
	for _, jobID := range opts.Graph.JobOrder() {
		job := opts.Graph.Jobs[jobID]

		if isInitial {
			included[jobID] = true
			jobReasons[jobID] = JobReason{Kind: ReasonInitial}
			initialDirty = append(initialDirty, jobID)
			continue
		}

		if missing := producesMissing(job, m); len(missing) > 0 {
			included[jobID] = true
			jobReasons[jobID] = JobReason{Kind: ReasonProducesMissing, Missing: missing}
			initialDirty = append(initialDirty, jobID)
			continue
		}

		if touched := intersectBaseIDs(job.Inputs, dirtyInputs); len(touched) > 0 {
			included[jobID] = true
			jobReasons[jobID] = JobReason{Kind: ReasonTouchesDirtyInput, Inputs: touched}
			initialDirty = append(initialDirty, jobID)
			continue
		}

		if touched := touchesDirtyArtefacts(job, dirtyArtefacts); len(touched) > 0 {
			included[jobID] = true
			jobReasons[jobID] = JobReason{Kind: ReasonTouchesDirtyArtefact, Artefacts: touched}
			initialDirty = append(initialDirty, jobID)
			continue
		}

		if stale, changed := inputsHashChanged(job, m, latestInputs, latestArtefacts); changed {
			included[jobID] = true
			jobReasons[jobID] = JobReason{Kind: ReasonInputsHashChanged, Stale: stale}
			initialDirty = append(initialDirty, jobID)
			continue
		}
	}

	topo, err := buildTopology(opts.Graph)
	if err != nil {
		return nil, err
	}
	layerAssignments, err := topo.ComputeLayers()
	if err != nil {
		return nil, errs.New(errs.CategoryRuntime, errs.CyclicDependency, "producer graph has a cycle: %v", err)
	}
	layerOf := make(map[string]int, len(opts.Graph.Jobs))
	for layerIdx, nodes := range layerAssignments {
		for _, n := range nodes {
			layerOf[n] = layerIdx
		}
	}

	var propagated []string
	if !isInitial {
		propagated = propagateDirtiness(opts.Graph, included, jobReasons)
	}

	var surgicalTargets []string
	if len(opts.ArtifactRegenerations) > 0 {
		surgicalTargets, err = applySurgicalMode(opts.Graph, opts.ArtifactRegenerations, included, jobReasons)
		if err != nil {
			return nil, err
		}
	} else if opts.ReRunFrom != nil {
		applyReRunFrom(opts.Graph, *opts.ReRunFrom, layerOf, included, jobReasons)
	}

	layers := buildLayers(opts.Graph, included, layerOf, opts.UpToLayer)

	hash, err := m.Hash()
	if err != nil {
		return nil, fmt.Errorf("plan: hash manifest: %w", err)
	}

	ep := &ExecutionPlan{
		Revision:            opts.TargetRevision,
		ManifestBaseHash:    hash,
		Layers:              layers,
		CreatedAt:           clock(),
		BlueprintLayerCount: len(layerAssignments),
	}

	if opts.CollectExplanation {
		ep.Explanation = &Explanation{
			DirtyInputs:      sortedKeys(dirtyInputs),
			DirtyArtefacts:   sortedKeys(dirtyArtefacts),
			JobReasons:       jobReasons,
			InitialDirtyJobs: initialDirty,
			PropagatedJobs:   propagated,
			SurgicalTargets:  surgicalTargets,
		}
	}

	return ep, nil
}

func dirtyInputSet(m *manifest.Manifest, latestInputs map[string]eventlog.InputEvent) map[string]bool {
	dirty := make(map[string]bool)
	for id, ev := range latestInputs {
		entry, ok := m.Inputs[id]
		if !ok || entry.Hash != ev.Hash {
			dirty[id] = true
		}
	}
	return dirty
}

func dirtyArtefactSet(m *manifest.Manifest, latestArtefacts map[string]eventlog.ArtefactEvent) map[string]bool {
	dirty := make(map[string]bool)
	for id, ev := range latestArtefacts {
		if ev.Status != eventlog.StatusSucceeded {
			dirty[id] = true
			continue
		}
		hash, err := manifest.DeriveArtefactHash(ev)
		if err != nil {
			dirty[id] = true
			continue
		}
		entry, ok := m.Artifacts[id]
		if !ok || entry.Hash != hash {
			dirty[id] = true
		}
	}
	return dirty
}

func producesMissing(job *producergraph.Job, m *manifest.Manifest) []string {
	var missing []string
	for _, artifactID := range job.Produces {
		if _, ok := m.Artifacts[artifactID]; !ok {
			missing = append(missing, artifactID)
		}
	}
	return missing
}

func intersectBaseIDs(candidateIDs []string, dirty map[string]bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, id := range candidateIDs {
		base := ids.StripIndices(id)
		if dirty[id] || dirty[base] {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func touchesDirtyArtefacts(job *producergraph.Job, dirty map[string]bool) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(id string) {
		if dirty[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range job.Inputs {
		if ids.IsCanonicalArtifactID(id) {
			add(id)
		}
	}
	for _, fd := range job.Context.FanIn {
		for _, m := range fd.Members {
			add(m.ID)
		}
	}
	return out
}

func inputsHashChanged(job *producergraph.Job, m *manifest.Manifest, latestInputs map[string]eventlog.InputEvent, latestArtefacts map[string]eventlog.ArtefactEvent) ([]string, bool) {
	hash, err := HashInputContents(job.Inputs, latestInputs, latestArtefacts)
	if err != nil {
		return nil, false
	}
	var stale []string
	changed := false
	for _, artifactID := range job.Produces {
		entry, ok := m.Artifacts[artifactID]
		if !ok {
			continue // already covered by producesMissing
		}
		if entry.InputsHash != hash {
			changed = true
			stale = append(stale, artifactID)
		}
	}
	return stale, changed
}

func buildTopology(pg *producergraph.ProducerGraph) (*topology.Graph, error) {
	g := topology.NewGraph()
	for _, jobID := range pg.JobOrder() {
		g.AddNode(jobID)
	}
	for _, e := range pg.Edges {
		g.AddEdge(e.From, e.To)
	}
	if err := g.DetectCycles(); err != nil {
		return nil, errs.New(errs.CategoryRuntime, errs.CyclicDependency, "producer graph has a cycle: %v", err)
	}
	return g, nil
}

// propagateDirtiness performs the BFS of spec §4.6 step 3: every job
// downstream of an already-dirty job (along producer edges) becomes dirty
// too, recording the first dirty predecessor it saw.
func propagateDirtiness(pg *producergraph.ProducerGraph, included map[string]bool, reasons map[string]JobReason) []string {
	successors := make(map[string][]string)
	for _, e := range pg.Edges {
		successors[e.From] = append(successors[e.From], e.To)
	}

	queue := make([]string, 0, len(included))
	for id := range included {
		queue = append(queue, id)
	}
	sort.Strings(queue)

	var propagated []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range successors[current] {
			if included[next] {
				continue
			}
			included[next] = true
			reasons[next] = JobReason{Kind: ReasonPropagated, From: current}
			propagated = append(propagated, next)
			queue = append(queue, next)
		}
	}
	sort.Strings(propagated)
	return propagated
}

// applySurgicalMode computes the union of each regeneration target's
// downstream closure with the existing included set (spec §4.6 step 4).
// reRunFrom is ignored by the caller when this path is taken. A sourceJobId
// that names no job in the current ProducerGraph cannot be satisfied by any
// mode, so it fails the whole Build rather than being silently dropped.
func applySurgicalMode(pg *producergraph.ProducerGraph, regenerations []ArtifactRegeneration, included map[string]bool, reasons map[string]JobReason) ([]string, error) {
	successors := make(map[string][]string)
	for _, e := range pg.Edges {
		successors[e.From] = append(successors[e.From], e.To)
	}

	var targets []string
	for _, r := range regenerations {
		if _, ok := pg.Jobs[r.SourceJobID]; !ok {
			return nil, errs.New(errs.CategoryRuntime, errs.ArtifactNotInManifest,
				"surgical regeneration names source job %q, which is not in the producer graph", r.SourceJobID)
		}

		targets = append(targets, r.SourceJobID)
		if !included[r.SourceJobID] {
			included[r.SourceJobID] = true
			reasons[r.SourceJobID] = JobReason{Kind: ReasonSurgicalTarget}
		}

		queue := []string{r.SourceJobID}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for _, next := range successors[current] {
				if included[next] {
					continue
				}
				included[next] = true
				reasons[next] = JobReason{Kind: ReasonPropagated, From: current}
				queue = append(queue, next)
			}
		}
	}
	sort.Strings(targets)
	return targets, nil
}

// applyReRunFrom forces every job at or past topology layer k into the
// included set (spec §4.6 step 5; normal mode only).
func applyReRunFrom(pg *producergraph.ProducerGraph, k int, layerOf map[string]int, included map[string]bool, reasons map[string]JobReason) {
	for _, jobID := range pg.JobOrder() {
		if layerOf[jobID] >= k && !included[jobID] {
			included[jobID] = true
			reasons[jobID] = JobReason{Kind: ReasonForcedReRun}
		}
	}
}

// buildLayers assigns every included job to its topology layer, applies
// upToLayer, and trims trailing empty layers (spec §4.6 step 6).
func buildLayers(pg *producergraph.ProducerGraph, included map[string]bool, layerOf map[string]int, upToLayer *int) [][]*producergraph.Job {
	maxLayer := -1
	for _, jobID := range pg.JobOrder() {
		if !included[jobID] {
			continue
		}
		if upToLayer != nil && layerOf[jobID] > *upToLayer {
			continue
		}
		if layerOf[jobID] > maxLayer {
			maxLayer = layerOf[jobID]
		}
	}
	if maxLayer < 0 {
		return nil
	}

	layers := make([][]*producergraph.Job, maxLayer+1)
	for _, jobID := range pg.JobOrder() {
		if !included[jobID] {
			continue
		}
		layerIdx := layerOf[jobID]
		if upToLayer != nil && layerIdx > *upToLayer {
			continue
		}
		layers[layerIdx] = append(layers[layerIdx], pg.Jobs[jobID])
	}

	for len(layers) > 0 && len(layers[len(layers)-1]) == 0 {
		layers = layers[:len(layers)-1]
	}
	return layers
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
