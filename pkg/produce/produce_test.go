package produce_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renku/pipeline-engine/pkg/produce"
	"github.com/renku/pipeline-engine/pkg/producergraph"
)

func jobFor(alias string, produces ...string) *producergraph.Job {
	return &producergraph.Job{
		JobID:    "Producer:" + alias,
		Produces: produces,
		Context: producergraph.Context{
			ProducerAlias: alias,
			Extras:        producergraph.Extras{ResolvedInputs: map[string]interface{}{"Input:Topic": "space"}},
		},
	}
}

func TestDeterministicHandler_ReproducibleAcrossCalls(t *testing.T) {
	ctx := context.Background()
	req := produce.Request{Job: jobFor("ScriptWriter", "Artifact:Script")}

	r1, err := produce.DeterministicHandler(ctx, req)
	require.NoError(t, err)
	r2, err := produce.DeterministicHandler(ctx, req)
	require.NoError(t, err)

	require.Len(t, r1.Artefacts, 1)
	require.Len(t, r2.Artefacts, 1)
	assert.Equal(t, r1.Artefacts[0].Blob.Data, r2.Artefacts[0].Blob.Data)
	assert.Equal(t, produce.StatusSucceeded, r1.Status)
}

func TestDeterministicHandler_DiffersOnDifferentInputs(t *testing.T) {
	ctx := context.Background()
	req1 := produce.Request{Job: jobFor("ScriptWriter", "Artifact:Script")}
	req2 := produce.Request{Job: jobFor("ScriptWriter", "Artifact:Script")}
	req2.Job.Context.Extras.ResolvedInputs = map[string]interface{}{"Input:Topic": "a different topic"}

	r1, err := produce.DeterministicHandler(ctx, req1)
	require.NoError(t, err)
	r2, err := produce.DeterministicHandler(ctx, req2)
	require.NoError(t, err)

	assert.NotEqual(t, r1.Artefacts[0].Blob.Data, r2.Artefacts[0].Blob.Data)
}

func TestMockRegistry_DispatchesByProducerAlias(t *testing.T) {
	registry := produce.NewMockRegistry()
	var called string
	registry.Register("Narrator", func(_ context.Context, req produce.Request) (produce.Result, error) {
		called = req.Job.Context.ProducerAlias
		return produce.Result{JobID: req.Job.JobID, Status: produce.StatusSucceeded}, nil
	})

	fn := registry.Func()
	_, err := fn(context.Background(), produce.Request{Job: jobFor("Narrator")})
	require.NoError(t, err)
	assert.Equal(t, "Narrator", called)
}

func TestMockRegistry_FallsBackToDeterministicHandler(t *testing.T) {
	registry := produce.NewMockRegistry()
	fn := registry.Func()

	result, err := fn(context.Background(), produce.Request{Job: jobFor("Unregistered", "Artifact:Thing")})
	require.NoError(t, err)
	require.Len(t, result.Artefacts, 1)
	assert.Equal(t, produce.StatusSucceeded, result.Artefacts[0].Status)
}
