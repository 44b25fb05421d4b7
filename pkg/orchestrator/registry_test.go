package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermesh/infermesh/pkg/types"
)

func testWorker(id string, models []string, tags []string) *types.Worker {
	return &types.Worker{
		ID:      id,
		Address: "127.0.0.1:9000",
		Capabilities: types.Capabilities{
			Models: models,
			Tags:   tags,
		},
		Capacity: types.Capacity{MaxConcurrent: 10},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)

	isNew := r.Register(testWorker("w1", []string{"model-a"}, []string{"gpu"}))
	assert.True(t, isNew)
	assert.Equal(t, 1, r.Count())

	got := r.Get("w1")
	require.NotNil(t, got)
	assert.Equal(t, types.WorkerStatusActive, got.Status)
	assert.False(t, got.RegisteredAt.IsZero())

	byModel := r.WorkersForModel("model-a")
	require.Len(t, byModel, 1)
	assert.Equal(t, "w1", byModel[0].ID)

	byTag := r.WorkersWithCapability("gpu")
	require.Len(t, byTag, 1)
	assert.Equal(t, "w1", byTag[0].ID)
}

func TestReRegisterPreservesStatus(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(testWorker("w1", []string{"model-a"}, nil))
	require.True(t, r.UpdateStatus("w1", types.WorkerStatusUnhealthy))

	r.Register(testWorker("w1", []string{"model-a"}, nil))

	assert.Equal(t, types.WorkerStatusUnhealthy, r.Get("w1").Status)
	assert.Empty(t, r.WorkersForModel("model-a"))
}

func TestReRegisterRefreshesCapabilities(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(testWorker("w1", []string{"model-a"}, nil))

	first := r.Get("w1")

	isNew := r.Register(testWorker("w1", []string{"model-b"}, nil))
	assert.False(t, isNew)
	assert.Equal(t, 1, r.Count())

	// Old index entries are gone, new ones in place.
	assert.Empty(t, r.WorkersForModel("model-a"))
	assert.Len(t, r.WorkersForModel("model-b"), 1)

	// Registration time survives the refresh.
	second := r.Get("w1")
	assert.True(t, second.RegisteredAt.Equal(first.RegisteredAt))
}

func TestUnregisterRemovesAllIndexEntries(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(testWorker("w1", []string{"model-a", "model-b"}, []string{"gpu"}))
	r.Register(testWorker("w2", []string{"model-a"}, nil))

	assert.True(t, r.Unregister("w1"))
	assert.False(t, r.Unregister("w1"))

	assert.Nil(t, r.Get("w1"))
	byModel := r.WorkersForModel("model-a")
	require.Len(t, byModel, 1)
	assert.Equal(t, "w2", byModel[0].ID)
	assert.Empty(t, r.WorkersForModel("model-b"))
	assert.Empty(t, r.WorkersWithCapability("gpu"))
}

func TestUnhealthyWorkersExcludedFromLookups(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(testWorker("w1", []string{"model-a"}, nil))
	r.Register(testWorker("w2", []string{"model-a"}, nil))

	require.True(t, r.UpdateStatus("w1", types.WorkerStatusUnhealthy))

	byModel := r.WorkersForModel("model-a")
	require.Len(t, byModel, 1)
	assert.Equal(t, "w2", byModel[0].ID)

	// Readmission makes it selectable again.
	require.True(t, r.UpdateStatus("w1", types.WorkerStatusActive))
	assert.Len(t, r.WorkersForModel("model-a"), 2)
}

func TestListIsStableAndCopied(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(testWorker("w2", nil, nil))
	r.Register(testWorker("w1", nil, nil))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "w1", list[0].ID)
	assert.Equal(t, "w2", list[1].ID)

	// Mutating the copy must not leak into the registry.
	list[0].Status = types.WorkerStatusUnhealthy
	assert.Equal(t, types.WorkerStatusActive, r.Get("w1").Status)
}

func TestUpdateCapacity(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(testWorker("w1", nil, nil))

	require.True(t, r.UpdateCapacity("w1", types.Capacity{MaxConcurrent: 8, CurrentLoad: 3}))
	got := r.Get("w1")
	assert.Equal(t, 8, got.Capacity.MaxConcurrent)
	assert.Equal(t, 3, got.Capacity.CurrentLoad)

	assert.False(t, r.UpdateCapacity("ghost", types.Capacity{}))
}
