package eventlog

import (
	"context"
	"sync"
)

// MemoryLog is an in-memory Log, for planning dry-runs and tests. Grounded
// on pkg/store/memory.go: a single mutex guarding a per-movie map, with
// deep copies taken on every append and read so callers can never mutate
// the log's internal state through a returned slice/value.
type MemoryLog struct {
	mu        sync.RWMutex
	inputs    map[string][]InputEvent
	artefacts map[string][]ArtefactEvent
}

// NewMemoryLog returns an empty in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		inputs:    make(map[string][]InputEvent),
		artefacts: make(map[string][]ArtefactEvent),
	}
}

func (m *MemoryLog) AppendInput(_ context.Context, movieID string, ev InputEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs[movieID] = append(m.inputs[movieID], ev)
	return nil
}

func (m *MemoryLog) AppendArtefact(_ context.Context, movieID string, ev ArtefactEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artefacts[movieID] = append(m.artefacts[movieID], ev)
	return nil
}

func (m *MemoryLog) AllInputs(_ context.Context, movieID string) ([]InputEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]InputEvent, len(m.inputs[movieID]))
	copy(out, m.inputs[movieID])
	return out, nil
}

func (m *MemoryLog) AllArtefacts(_ context.Context, movieID string) ([]ArtefactEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ArtefactEvent, len(m.artefacts[movieID]))
	copy(out, m.artefacts[movieID])
	return out, nil
}

func (m *MemoryLog) LatestInputs(ctx context.Context, movieID string) (map[string]InputEvent, error) {
	events, err := m.AllInputs(ctx, movieID)
	if err != nil {
		return nil, err
	}
	return LatestInputsFrom(events), nil
}

func (m *MemoryLog) LatestArtefacts(ctx context.Context, movieID string) (map[string]ArtefactEvent, error) {
	events, err := m.AllArtefacts(ctx, movieID)
	if err != nil {
		return nil, err
	}
	return LatestArtefactsFrom(events), nil
}
