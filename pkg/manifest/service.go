package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/renku/pipeline-engine/pkg/blobstore"
	"github.com/renku/pipeline-engine/pkg/eventlog"
)

// currentPointer is the small document persisted at
// {base}/{movieId}/current.json, naming which manifest revision is current
// and guarding concurrent writers via PreviousHash (spec §6).
type currentPointer struct {
	Revision     string `json:"revision"`
	ManifestPath string `json:"manifestPath"`
	Hash         string `json:"hash"`
	BaseRevision string `json:"baseRevision,omitempty"`
}

func manifestPath(revision string) string {
	return fmt.Sprintf("manifests/%s.json", revision)
}

func currentPath() string {
	return "current.json"
}

// LoadCurrent loads the movie's current manifest (spec §4.8 loadCurrent). A
// movie with no recorded manifest yet returns Empty().
func LoadCurrent(ctx context.Context, storageCtx *blobstore.Context) (*Manifest, error) {
	ptrPath := storageCtx.Resolve(currentPath())
	exists, err := storageCtx.Backend.FileExists(ctx, ptrPath)
	if err != nil {
		return nil, fmt.Errorf("manifest: check current pointer: %w", err)
	}
	if !exists {
		return Empty(), nil
	}

	raw, err := storageCtx.Backend.ReadBytes(ctx, ptrPath)
	if err != nil {
		return nil, fmt.Errorf("manifest: read current pointer: %w", err)
	}
	var ptr currentPointer
	if err := json.Unmarshal(raw, &ptr); err != nil {
		return nil, fmt.Errorf("manifest: decode current pointer: %w", err)
	}

	data, err := storageCtx.Backend.ReadBytes(ctx, storageCtx.Resolve(ptr.ManifestPath))
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", ptr.ManifestPath, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", ptr.ManifestPath, err)
	}

	actual, err := m.Hash()
	if err != nil {
		return nil, fmt.Errorf("manifest: hash loaded manifest: %w", err)
	}
	if ptr.Hash != "" && actual != ptr.Hash {
		return nil, fmt.Errorf("manifest: current pointer hash mismatch: pointer=%s actual=%s", ptr.Hash, actual)
	}
	return &m, nil
}

// SaveOptions parameterises SaveManifest (spec §4.8
// "saveManifest(manifest, {movieId, previousHash, clock})").
type SaveOptions struct {
	PreviousHash string
}

// SaveManifest persists m as the movie's new current manifest, using an
// optimistic-concurrency check against the pointer's recorded hash (the
// caller reads PreviousHash from the LoadCurrent it planned against). An
// empty PreviousHash skips the check, for first-write callers.
func SaveManifest(ctx context.Context, storageCtx *blobstore.Context, m *Manifest, opts SaveOptions) error {
	ptrPath := storageCtx.Resolve(currentPath())
	exists, err := storageCtx.Backend.FileExists(ctx, ptrPath)
	if err != nil {
		return fmt.Errorf("manifest: check current pointer: %w", err)
	}
	if exists && opts.PreviousHash != "" {
		raw, err := storageCtx.Backend.ReadBytes(ctx, ptrPath)
		if err != nil {
			return fmt.Errorf("manifest: read current pointer: %w", err)
		}
		var ptr currentPointer
		if err := json.Unmarshal(raw, &ptr); err != nil {
			return fmt.Errorf("manifest: decode current pointer: %w", err)
		}
		if ptr.Hash != opts.PreviousHash {
			return fmt.Errorf("manifest: concurrent update: expected previous hash %s, found %s", opts.PreviousHash, ptr.Hash)
		}
	}

	hash, err := m.Hash()
	if err != nil {
		return fmt.Errorf("manifest: hash manifest: %w", err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: marshal manifest: %w", err)
	}
	mPath := manifestPath(m.Revision)
	if err := storageCtx.Backend.Write(ctx, storageCtx.Resolve(mPath), data, "application/json"); err != nil {
		return fmt.Errorf("manifest: write %s: %w", mPath, err)
	}

	ptr := currentPointer{
		Revision:     m.Revision,
		ManifestPath: mPath,
		Hash:         hash,
		BaseRevision: m.BaseRevision,
	}
	ptrData, err := json.Marshal(ptr)
	if err != nil {
		return fmt.Errorf("manifest: marshal current pointer: %w", err)
	}
	if err := storageCtx.Backend.Write(ctx, ptrPath, ptrData, "application/json"); err != nil {
		return fmt.Errorf("manifest: write current pointer: %w", err)
	}
	return nil
}

// BuildOptions parameterises BuildFromEvents (spec §4.8
// "buildFromEvents({movieId, targetRevision, baseRevision, eventLog,
// clock})").
type BuildOptions struct {
	MovieID        string
	TargetRevision string
	BaseRevision   string
	Clock          Clock
}

// BuildFromEvents folds a movie's full event log down into a Manifest (spec
// §3, §4.8, §5 "two independent rebuilds from the same log yield
// byte-identical manifests"): latest input per id, latest succeeded artefact
// per id. A latest ArtefactEvent that is failed or skipped drops that
// artefact from the manifest rather than carrying a stale succeeded entry
// forward (spec invariant: a manifest never names an artefact whose latest
// event did not succeed).
func BuildFromEvents(ctx context.Context, log eventlog.Log, opts BuildOptions) (*Manifest, error) {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	inputEvents, err := log.AllInputs(ctx, opts.MovieID)
	if err != nil {
		return nil, fmt.Errorf("manifest: load input events: %w", err)
	}
	artefactEvents, err := log.AllArtefacts(ctx, opts.MovieID)
	if err != nil {
		return nil, fmt.Errorf("manifest: load artefact events: %w", err)
	}

	latestInputs := eventlog.LatestInputsFrom(inputEvents)
	latestArtefacts := eventlog.LatestArtefactsFrom(artefactEvents)

	m := &Manifest{
		Revision:     opts.TargetRevision,
		BaseRevision: opts.BaseRevision,
		CreatedAt:    clock(),
		Inputs:       make(map[string]InputEntry, len(latestInputs)),
		Artifacts:    make(map[string]ArtefactEntry, len(latestArtefacts)),
		Timeline:     make(map[string]interface{}),
	}

	for id, ev := range latestInputs {
		m.Inputs[id] = InputEntry{Hash: ev.Hash, CreatedAt: ev.CreatedAt}
	}

	for id, ev := range latestArtefacts {
		if ev.Status != eventlog.StatusSucceeded {
			continue
		}
		hash, err := DeriveArtefactHash(ev)
		if err != nil {
			return nil, fmt.Errorf("manifest: derive hash for %s: %w", id, err)
		}
		var blob *eventlog.BlobRef
		if ev.Output.Blob != nil {
			cp := *ev.Output.Blob
			blob = &cp
		}
		m.Artifacts[id] = ArtefactEntry{
			Hash:       hash,
			Blob:       blob,
			ProducedBy: ev.ProducedBy,
			Status:     ev.Status,
			InputsHash: ev.InputsHash,
			CreatedAt:  ev.CreatedAt,
		}
	}

	return m, nil
}
