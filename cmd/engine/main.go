// Package main provides the engine demo entry point: a flag-parsed dry-run
// driver over a JSON-encoded blueprint document, input values, and producer
// catalog. It exercises the full plan/run pipeline end to end; it is not the
// spec'd CLI surface, which stays out of scope.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/renku/pipeline-engine/pkg/blobstore"
	"github.com/renku/pipeline-engine/pkg/blueprint"
	"github.com/renku/pipeline-engine/pkg/eventlog"
	"github.com/renku/pipeline-engine/pkg/expand"
	"github.com/renku/pipeline-engine/pkg/graphbuild"
	"github.com/renku/pipeline-engine/pkg/hashing"
	"github.com/renku/pipeline-engine/pkg/manifest"
	"github.com/renku/pipeline-engine/pkg/plan"
	"github.com/renku/pipeline-engine/pkg/produce"
	"github.com/renku/pipeline-engine/pkg/producergraph"
	"github.com/renku/pipeline-engine/pkg/runner"
)

var (
	blueprintPath = flag.String("blueprint", "", "path to a JSON blueprint document (required)")
	inputsPath    = flag.String("inputs", "", "path to a JSON {inputId: value} map (required)")
	catalogPath   = flag.String("catalog", "", "path to a JSON {alias: CatalogEntry} producer catalog")
	movieID       = flag.String("movie", "demo-movie", "movie id this run is scoped to")
	root          = flag.String("root", ".", "storage root directory")
	base          = flag.String("base", "data", "storage base path under root")
	backend       = flag.String("backend", "memory", "storage backend: memory, local, or s3")
	bucket        = flag.String("bucket", "", "s3 bucket (required when -backend=s3)")
	mode          = flag.String("mode", "plan", "plan or run")
	explain       = flag.Bool("explain", true, "include a PlanExplanation in plan output")
)

func main() {
	flag.Parse()

	if *blueprintPath == "" || *inputsPath == "" {
		log.Fatal("-blueprint and -inputs are required")
	}

	doc, err := readBlueprintDocument(*blueprintPath)
	if err != nil {
		log.Fatalf("reading blueprint: %v", err)
	}
	inputs, err := readInputs(*inputsPath)
	if err != nil {
		log.Fatalf("reading inputs: %v", err)
	}
	catalog, err := buildCatalog(*catalogPath)
	if err != nil {
		log.Fatalf("reading catalog: %v", err)
	}

	tree := &blueprint.Tree{Root: doc}

	log.Println("building blueprint graph...")
	g, err := graphbuild.BuildGraph(tree)
	if err != nil {
		log.Fatalf("building blueprint graph: %v", err)
	}

	log.Println("expanding canonical blueprint...")
	cb, err := expand.Expand(g, inputs)
	if err != nil {
		log.Fatalf("expanding blueprint: %v", err)
	}

	log.Println("reducing producer graph...")
	pg, err := producergraph.Build(g, cb, catalog)
	if err != nil {
		log.Fatalf("building producer graph: %v", err)
	}
	log.Printf("producer graph: %d jobs, %d edges", len(pg.Jobs), len(pg.Edges))

	ctx := context.Background()

	backendImpl, err := newStorageBackend(ctx, *backend, *bucket)
	if err != nil {
		log.Fatalf("storage backend: %v", err)
	}
	storageCtx := blobstore.NewContext(backendImpl, *root, *base, *movieID)

	var log_ eventlog.Log
	if *backend == "memory" {
		log_ = eventlog.NewMemoryLog()
	} else {
		log_ = eventlog.NewStorageLog(backendImpl, *root, *base)
	}

	for id, ev := range inputEventsFrom(inputs) {
		if err := log_.AppendInput(ctx, *movieID, ev); err != nil {
			log.Fatalf("seeding input %s: %v", id, err)
		}
	}

	log.Println("loading current manifest...")
	current, err := manifest.LoadCurrent(ctx, storageCtx)
	if err != nil {
		log.Fatalf("loading manifest: %v", err)
	}
	previousHash, err := current.Hash()
	if err != nil {
		log.Fatalf("hashing manifest: %v", err)
	}

	log.Println("planning...")
	revision := nextRevision(current.Revision)
	executionPlan, err := plan.Build(ctx, plan.Options{
		Manifest:           current,
		EventLog:           log_,
		MovieID:            *movieID,
		Graph:              pg,
		TargetRevision:     revision,
		CollectExplanation: *explain,
	})
	if err != nil {
		log.Fatalf("planning: %v", err)
	}
	printJSON(executionPlan)

	if *mode == "plan" {
		return
	}

	log.Println("running...")
	result, err := runner.Run(ctx, executionPlan, runner.Options{
		MovieID:              *movieID,
		EventLog:             log_,
		StorageCtx:           storageCtx,
		Produce:              produce.NewMockRegistry().Func(),
		PreviousManifestHash: previousHash,
	})
	if err != nil {
		log.Fatalf("running: %v", err)
	}
	printJSON(result)
}

func readBlueprintDocument(path string) (*blueprint.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc blueprint.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode blueprint document: %w", err)
	}
	return &doc, nil
}

func readInputs(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var inputs map[string]interface{}
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	return inputs, nil
}

func buildCatalog(path string) (*producergraph.ProducerCatalog, error) {
	catalog := producergraph.NewProducerCatalog()
	if path == "" {
		return catalog, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries map[string]producergraph.CatalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for alias, entry := range entries {
		catalog.Register(alias, entry)
	}
	return catalog, nil
}

func newStorageBackend(ctx context.Context, kind, bucket string) (blobstore.Storage, error) {
	switch kind {
	case "memory":
		return blobstore.NewMemoryBackend(), nil
	case "local":
		return blobstore.NewLocalBackend(), nil
	case "s3":
		if bucket == "" {
			return nil, fmt.Errorf("-bucket is required when -backend=s3")
		}
		return blobstore.NewS3Backend(ctx, bucket)
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

func inputEventsFrom(inputs map[string]interface{}) map[string]eventlog.InputEvent {
	out := make(map[string]eventlog.InputEvent, len(inputs))
	for id, value := range inputs {
		hash, err := hashing.HashValue(value)
		if err != nil {
			continue
		}
		out[id] = eventlog.InputEvent{ID: id, Hash: hash, Value: value}
	}
	return out
}

func nextRevision(current string) string {
	var n int
	fmt.Sscanf(current, "rev-%d", &n)
	return fmt.Sprintf("rev-%04d", n+1)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encoding output: %v", err)
	}
}
