// Package producergraph reduces an expand.CanonicalBlueprint to a DAG of
// producer jobs (spec §4.4): one node per Producer instance, carrying its
// resolved inputs, fan-in, sdk mapping, and per-job conditions, with edges
// derived from artefact hand-offs between jobs.
package producergraph

import (
	"github.com/renku/pipeline-engine/pkg/blueprint"
	"github.com/renku/pipeline-engine/pkg/errs"
	"github.com/renku/pipeline-engine/pkg/expand"
	"github.com/renku/pipeline-engine/pkg/graphbuild"
	"github.com/renku/pipeline-engine/pkg/ids"
)

// InputCondition pairs the condition gating one of a job's inputs with the
// job instance's own indices, for runtime path resolution (spec §4.4, §9).
type InputCondition struct {
	Condition *blueprint.Condition
	Indices   []int
}

// Context carries everything about a job beyond its bare id, provider, and
// input/output id lists (spec §4.4 "context{...}").
type Context struct {
	NamespacePath []string
	Indices       []int
	ProducerAlias string

	// InputBindings maps the bare parameter name the producer declaration
	// used to the canonical id of its fully resolved (alias-collapsed)
	// source.
	InputBindings map[string]string

	SDKMapping map[string]string

	// FanIn is the subset of the CanonicalBlueprint's fan-in descriptors
	// whose target input is one of this job's inputs.
	FanIn map[string]*expand.FanInDescriptor

	// InputConditions gates a subset of Inputs on an upstream artefact field.
	InputConditions map[string]InputCondition

	Extras Extras
}

// Extras carries provider schema metadata plus fields the Runner fills in
// lazily while preparing a job for invocation (spec §4.4, §4.7).
type Extras struct {
	Schema Schema

	// ResolvedInputs and AssetBlobPaths are populated by the Runner
	// (spec §4.7 steps 3-7); nil until then.
	ResolvedInputs map[string]interface{}
	AssetBlobPaths map[string]string
}

// Job is one node of the ProducerGraph: a single Producer instance.
type Job struct {
	JobID         string
	Producer      string // canonical id of the producer's declaration node
	Provider      string
	ProviderModel string
	RateKey       string

	Inputs   []string
	Produces []string

	Context Context
}

// Edge is a directed producer-to-producer dependency.
type Edge struct {
	From string
	To   string
}

// ProducerGraph is the reduced DAG of producer jobs (spec §4.4).
type ProducerGraph struct {
	Jobs  map[string]*Job
	Edges []Edge

	order []string
}

// JobOrder returns job ids in a deterministic order (the order their
// CanonicalBlueprint instances were enumerated in).
func (pg *ProducerGraph) JobOrder() []string {
	out := make([]string, len(pg.order))
	copy(out, pg.order)
	return out
}

// Build reduces a CanonicalBlueprint (plus the unexpanded Graph it was
// expanded from, for node metadata the expander doesn't carry forward) to a
// ProducerGraph, resolving each producer instance against catalog.
func Build(g *graphbuild.Graph, cb *expand.CanonicalBlueprint, catalog *ProducerCatalog) (*ProducerGraph, error) {
	pg := &ProducerGraph{Jobs: make(map[string]*Job)}

	incoming := make(map[string][]*expand.EdgeInstance)
	outgoing := make(map[string][]*expand.EdgeInstance)
	for _, e := range cb.Edges {
		incoming[e.To] = append(incoming[e.To], e)
		outgoing[e.From] = append(outgoing[e.From], e)
	}

	for _, instID := range instanceOrder(cb) {
		inst := cb.Nodes[instID]
		if inst.Kind != graphbuild.NodeProducer {
			continue
		}

		srcNode, ok := g.Nodes[inst.SourceNodeID]
		if !ok {
			return nil, errs.New(errs.CategoryRuntime, errs.UnknownNodeKind, "producer instance %q has no declaration node %q", instID, inst.SourceNodeID)
		}

		alias, err := producerAlias(inst.SourceNodeID)
		if err != nil {
			return nil, err
		}

		entry, ok := catalog.Get(alias)
		if !ok {
			return nil, errs.New(errs.CategoryValidation, errs.BlueprintValidationFailed, "producer %q is not registered in the producer catalog", alias)
		}

		job := &Job{
			JobID:         instID,
			Producer:      srcNode.ID,
			Provider:      entry.Provider,
			ProviderModel: entry.ProviderModel,
			RateKey:       entry.RateKey,
			Context: Context{
				NamespacePath: srcNode.NamespacePath,
				Indices:       inst.Indices,
				ProducerAlias: alias,
				InputBindings: cb.InputBindings[instID],
				SDKMapping:    chooseSDKMapping(entry.SDKMapping, srcNode.SDKMapping),
				Extras:        Extras{Schema: entry.Schema},
			},
		}

		inputSet := make(map[string]bool)
		inputConditions := make(map[string]InputCondition)
		for _, e := range incoming[instID] {
			if !inputSet[e.From] {
				inputSet[e.From] = true
				job.Inputs = append(job.Inputs, e.From)
			}
			if e.Conditions != nil {
				inputConditions[e.From] = InputCondition{Condition: e.Conditions, Indices: inst.Indices}
			}
		}
		for _, key := range entry.SelectionInputKeys {
			syntheticID := ids.Format(ids.KindInput, alias+"."+key)
			if !inputSet[syntheticID] {
				inputSet[syntheticID] = true
				job.Inputs = append(job.Inputs, syntheticID)
			}
		}
		for _, key := range entry.ConfigInputPaths {
			syntheticID := ids.Format(ids.KindInput, alias+"."+key)
			if !inputSet[syntheticID] {
				inputSet[syntheticID] = true
				job.Inputs = append(job.Inputs, syntheticID)
			}
		}
		if len(inputConditions) > 0 {
			job.Context.InputConditions = inputConditions
		}

		for _, e := range outgoing[instID] {
			if ids.IsCanonicalArtifactID(e.To) {
				job.Produces = append(job.Produces, e.To)
			}
		}

		if len(cb.FanIn) > 0 {
			fanIn := make(map[string]*expand.FanInDescriptor)
			for _, inputID := range job.Inputs {
				if fd, ok := cb.FanIn[inputID]; ok {
					fanIn[inputID] = fd
				}
			}
			if len(fanIn) > 0 {
				job.Context.FanIn = fanIn
			}
		}

		pg.Jobs[instID] = job
		pg.order = append(pg.order, instID)
	}

	pg.Edges = deriveEdges(pg)

	return pg, nil
}

// instanceOrder returns CanonicalBlueprint node instance ids sorted for
// deterministic job ordering (map iteration order is not stable in Go).
func instanceOrder(cb *expand.CanonicalBlueprint) []string {
	out := make([]string, 0, len(cb.Nodes))
	for id := range cb.Nodes {
		out = append(out, id)
	}
	sortStrings(out)
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func producerAlias(sourceNodeID string) (string, error) {
	p, err := ids.Parse(sourceNodeID)
	if err != nil {
		return "", err
	}
	if p.Kind != ids.KindProducer {
		return "", errs.New(errs.CategoryRuntime, errs.UnknownNodeKind, "%q is not a producer id", sourceNodeID)
	}
	return p.Path, nil
}

func chooseSDKMapping(catalogMapping, declaredMapping map[string]string) map[string]string {
	if len(catalogMapping) > 0 {
		return catalogMapping
	}
	return declaredMapping
}

// deriveEdges builds producer-to-producer edges from Producer->Artifact->Producer
// hand-offs and from input bindings whose source is an artefact, deduplicated
// (spec §4.4).
func deriveEdges(pg *ProducerGraph) []Edge {
	producerOf := make(map[string]string, len(pg.Jobs))
	for jobID, job := range pg.Jobs {
		for _, artifactID := range job.Produces {
			producerOf[artifactID] = jobID
		}
	}

	seen := make(map[Edge]bool)
	var out []Edge
	add := func(from, to string) {
		if from == "" || from == to {
			return
		}
		e := Edge{From: from, To: to}
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}

	for _, jobID := range pg.order {
		job := pg.Jobs[jobID]
		for _, inputID := range job.Inputs {
			if producer, ok := producerOf[inputID]; ok {
				add(producer, jobID)
			}
		}
		for _, source := range job.Context.InputBindings {
			if producer, ok := producerOf[source]; ok {
				add(producer, jobID)
			}
		}
	}

	return out
}
