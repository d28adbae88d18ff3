package eventlog

import "context"

// Log is the append-only, per-movie event stream interface (spec §3, §5,
// §6). Appends never fail due to contention within a movie (an
// implementation serialises them); "latest wins" reads use append order.
type Log interface {
	AppendInput(ctx context.Context, movieID string, ev InputEvent) error
	AppendArtefact(ctx context.Context, movieID string, ev ArtefactEvent) error

	// AllInputs/AllArtefacts return every event ever appended, in append
	// order (spec §8 property 7: "append-only").
	AllInputs(ctx context.Context, movieID string) ([]InputEvent, error)
	AllArtefacts(ctx context.Context, movieID string) ([]ArtefactEvent, error)

	// LatestInputs/LatestArtefacts fold the streams down to the latest event
	// per id (spec §3: "the latest entry per key is the authoritative
	// state").
	LatestInputs(ctx context.Context, movieID string) (map[string]InputEvent, error)
	LatestArtefacts(ctx context.Context, movieID string) (map[string]ArtefactEvent, error)
}

// LatestInputsFrom folds an ordered InputEvent stream down to the latest
// event per id. Exported so both Log implementations (and tests) share one
// fold semantics.
func LatestInputsFrom(events []InputEvent) map[string]InputEvent {
	out := make(map[string]InputEvent, len(events))
	for _, ev := range events {
		out[ev.ID] = ev
	}
	return out
}

// LatestArtefactsFrom folds an ordered ArtefactEvent stream down to the
// latest event per artefact id.
func LatestArtefactsFrom(events []ArtefactEvent) map[string]ArtefactEvent {
	out := make(map[string]ArtefactEvent, len(events))
	for _, ev := range events {
		out[ev.ArtefactID] = ev
	}
	return out
}
