package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/renku/pipeline-engine/pkg/blobstore"
	"github.com/renku/pipeline-engine/pkg/blueprint"
	"github.com/renku/pipeline-engine/pkg/condition"
	"github.com/renku/pipeline-engine/pkg/eventlog"
	"github.com/renku/pipeline-engine/pkg/ids"
	"github.com/renku/pipeline-engine/pkg/producergraph"
)

// requiredArtefactIDs collects the canonical artefact ids a job needs read
// before it can run (spec §4.7 step 1): its artefact-kind inputs, every
// fan-in member, and the base artefact id named by each input condition's
// "when" path.
func requiredArtefactIDs(job *producergraph.Job) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
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
	for _, ic := range job.Context.InputConditions {
		for _, when := range collectWhenPaths(ic.Condition) {
			add(baseArtifactIDFromPath(when))
		}
	}
	return out
}

func collectWhenPaths(cond *blueprint.Condition) []string {
	if cond == nil {
		return nil
	}
	if cond.IsClause() {
		return []string{cond.When}
	}
	var out []string
	for _, c := range cond.All {
		c := c
		out = append(out, collectWhenPaths(&c)...)
	}
	for _, c := range cond.Any {
		c := c
		out = append(out, collectWhenPaths(&c)...)
	}
	return out
}

func baseArtifactIDFromPath(path string) string {
	parts := strings.SplitN(path, ".", 3)
	if len(parts) < 2 {
		return ""
	}
	return ids.Format(ids.KindArtifact, parts[0]+"."+parts[1])
}

// resolveArtefactEnv reads the latest succeeded event for each required
// artefact id and materialises its value (spec §4.7 step 3): JSON blobs
// decode to their value, text blobs become strings, binary blobs pass
// through as an eventlog.BlobRef placeholder for resolveBlobRefs to later
// replace with real bytes. Every id is stored under its canonical form and
// under its index- and prefix-stripped aliases, since condition "when" paths
// reference the bare dotted form.
func resolveArtefactEnv(ctx context.Context, storageCtx *blobstore.Context, latestArtefacts map[string]eventlog.ArtefactEvent, requiredIDs []string) (map[string]interface{}, error) {
	env := make(map[string]interface{})
	for _, id := range requiredIDs {
		ev, ok := latestArtefacts[id]
		if !ok || ev.Status != eventlog.StatusSucceeded || ev.Output.Blob == nil {
			continue
		}

		value, err := decodeBlobValue(ctx, storageCtx, *ev.Output.Blob)
		if err != nil {
			return nil, err
		}
		for _, key := range aliasKeys(id) {
			env[key] = value
		}
	}
	return env, nil
}

func decodeBlobValue(ctx context.Context, storageCtx *blobstore.Context, ref eventlog.BlobRef) (interface{}, error) {
	switch {
	case ref.MimeType == "application/json":
		data, err := blobstore.ReadBlob(ctx, storageCtx, blobstore.BlobRef{Hash: ref.Hash, Size: ref.Size, MimeType: ref.MimeType})
		if err != nil {
			return nil, fmt.Errorf("runner: read blob %s: %w", ref.Hash, err)
		}
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("runner: decode json blob %s: %w", ref.Hash, err)
		}
		return v, nil
	case strings.HasPrefix(ref.MimeType, "text/"):
		data, err := blobstore.ReadBlob(ctx, storageCtx, blobstore.BlobRef{Hash: ref.Hash, Size: ref.Size, MimeType: ref.MimeType})
		if err != nil {
			return nil, fmt.Errorf("runner: read blob %s: %w", ref.Hash, err)
		}
		return string(data), nil
	default:
		return ref, nil
	}
}

func aliasKeys(id string) []string {
	keys := []string{id}
	base := ids.StripIndices(id)
	if base != id {
		keys = append(keys, base)
	}
	if parsed, err := ids.Parse(id); err == nil && parsed.Path != "" {
		bare := ids.StripIndices(parsed.Path)
		if bare != id && bare != base {
			keys = append(keys, bare)
		}
	}
	return keys
}

// evaluateConditions applies spec §4.7 step 4: a conditional input survives
// iff its condition is satisfied against resolvedInputs. The whole job is
// skipped iff no conditional input is satisfied and there are neither
// unconditional artefact inputs nor fan-in members without a condition.
func evaluateConditions(job *producergraph.Job, resolvedInputs map[string]interface{}) ([]string, bool, string, error) {
	if len(job.Context.InputConditions) == 0 {
		return job.Inputs, false, "", nil
	}

	satisfiedAny := false
	drop := make(map[string]bool)
	for id, ic := range job.Context.InputConditions {
		ok, err := condition.Evaluate(ic.Condition, resolvedInputs)
		if err != nil {
			return nil, false, "", err
		}
		if ok {
			satisfiedAny = true
		} else {
			drop[id] = true
		}
	}

	if !satisfiedAny {
		hasUnconditionalArtefact := false
		for _, id := range job.Inputs {
			if !ids.IsCanonicalArtifactID(id) {
				continue
			}
			if _, gated := job.Context.InputConditions[id]; !gated {
				hasUnconditionalArtefact = true
				break
			}
		}
		hasUngatedFanIn := false
		for fanInID := range job.Context.FanIn {
			if _, gated := job.Context.InputConditions[fanInID]; !gated {
				hasUngatedFanIn = true
				break
			}
		}
		if !hasUnconditionalArtefact && !hasUngatedFanIn {
			return nil, true, "conditions_not_met", nil
		}
	}

	effective := make([]string, 0, len(job.Inputs))
	for _, id := range job.Inputs {
		if drop[id] {
			continue
		}
		effective = append(effective, id)
	}
	return effective, false, "", nil
}

// materializeFanIn sets resolvedInputs[fanInID] to the dense group-of-groups
// value the producer expects (spec §4.7 step 5).
func materializeFanIn(job *producergraph.Job, resolvedInputs map[string]interface{}) {
	for fanInID, fd := range job.Context.FanIn {
		resolvedInputs[fanInID] = condition.MaterializeGroups(fd)
	}
}

// resolveAssetBlobPaths walks resolvedInputs for strings shaped like an
// Artifact: id, looks each up in the event log directly (bypassing
// resolvedInputs, so this survives a stale manifest), and records its
// absolute storage path (spec §4.7 step 6).
func resolveAssetBlobPaths(ctx context.Context, storageCtx *blobstore.Context, latestArtefacts map[string]eventlog.ArtefactEvent, resolvedInputs map[string]interface{}) (map[string]string, error) {
	paths := make(map[string]string)
	var walkErr error
	walkStrings(resolvedInputs, func(s string) {
		if walkErr != nil || !ids.IsCanonicalArtifactID(s) {
			return
		}
		if _, ok := paths[s]; ok {
			return
		}
		ev, ok := latestArtefacts[s]
		if !ok || ev.Status != eventlog.StatusSucceeded || ev.Output.Blob == nil {
			return
		}
		paths[s] = storageCtx.Resolve(blobstore.BlobPath(ev.Output.Blob.Hash, ev.Output.Blob.MimeType))
	})
	return paths, walkErr
}

// resolveBlobRefs walks resolvedInputs in place, replacing every
// eventlog.BlobRef placeholder left by decodeBlobValue with its actual bytes
// (spec §4.7 step 7).
func resolveBlobRefs(ctx context.Context, storageCtx *blobstore.Context, resolvedInputs map[string]interface{}) error {
	for k, v := range resolvedInputs {
		resolved, err := resolveBlobRefsIn(ctx, storageCtx, v)
		if err != nil {
			return err
		}
		resolvedInputs[k] = resolved
	}
	return nil
}

func resolveBlobRefsIn(ctx context.Context, storageCtx *blobstore.Context, v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case eventlog.BlobRef:
		data, err := blobstore.ReadBlob(ctx, storageCtx, blobstore.BlobRef{Hash: val.Hash, Size: val.Size, MimeType: val.MimeType})
		if err != nil {
			return nil, fmt.Errorf("runner: read blob %s: %w", val.Hash, err)
		}
		return blobInput{Data: data, MimeType: val.MimeType}, nil
	case map[string]interface{}:
		for k, child := range val {
			resolved, err := resolveBlobRefsIn(ctx, storageCtx, child)
			if err != nil {
				return nil, err
			}
			val[k] = resolved
		}
		return val, nil
	case []interface{}:
		for i, child := range val {
			resolved, err := resolveBlobRefsIn(ctx, storageCtx, child)
			if err != nil {
				return nil, err
			}
			val[i] = resolved
		}
		return val, nil
	default:
		return v, nil
	}
}

// blobInput is the runtime shape a binary artefact resolves to in
// resolvedInputs, mirroring spec §6's "{data: bytes, mimeType}".
type blobInput struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mimeType"`
}

// walkStrings recursively visits every string leaf reachable from v through
// nested maps and slices.
func walkStrings(v interface{}, fn func(string)) {
	switch val := v.(type) {
	case string:
		fn(val)
	case map[string]interface{}:
		for _, child := range val {
			walkStrings(child, fn)
		}
	case []interface{}:
		for _, child := range val {
			walkStrings(child, fn)
		}
	case condition.FanInValue:
		for _, group := range val.Groups {
			for _, id := range group {
				fn(id)
			}
		}
	}
}
