package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermesh/infermesh/pkg/config"
	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/types"
)

func testConfig(maxConcurrent int) config.Worker {
	return config.Worker{
		ID:                      "w1",
		MaxConcurrentInferences: maxConcurrent,
		InferenceTimeoutMs:      30000,
		ModelCacheSize:          5,
		Capabilities:            []string{"model-a", "model-b", "tag:gpu"},
	}
}

func installSim(t *testing.T, w *Worker, modelID string, p Predictor) {
	t.Helper()
	if p == nil {
		p = &SimPredictor{ModelID: modelID}
	}
	w.InstallModel(&LoadedModel{
		ID:        modelID,
		Version:   "1.0",
		Metadata:  &types.ModelMetadata{ModelID: modelID, Version: "1.0"},
		Predictor: p,
		LoadedAt:  time.Now(),
	})
}

func TestCapabilitySplitting(t *testing.T) {
	w, err := NewWorker(testConfig(2), nil, nil)
	require.NoError(t, err)

	caps := w.Capabilities()
	assert.Equal(t, []string{"model-a", "model-b"}, caps.Models)
	assert.Equal(t, []string{"gpu"}, caps.Tags)
	assert.True(t, caps.Has("gpu"))
	assert.True(t, caps.Has("model-a"))
	assert.False(t, caps.Has("tpu"))
}

func TestRunInferenceSuccess(t *testing.T) {
	w, err := NewWorker(testConfig(2), nil, nil)
	require.NoError(t, err)
	installSim(t, w, "model-a", nil)

	result, err := w.RunInference(context.Background(), &types.InferenceRequest{
		ModelID:   "model-a",
		InputData: "hello",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.NotEmpty(t, result.InferenceID)
	assert.Equal(t, "model-a", result.ModelID)
	assert.GreaterOrEqual(t, result.Confidence, 0.0)
	assert.Less(t, result.Confidence, 1.0)
	assert.Equal(t, "1.0", result.Metadata["modelVersion"])

	predictions, ok := result.Predictions.([]float64)
	require.True(t, ok)
	assert.Len(t, predictions, 1000)

	// Zero in-flight once the call returns.
	assert.Zero(t, w.CurrentLoad())
}

func TestInferenceIsDeterministic(t *testing.T) {
	w, err := NewWorker(testConfig(2), nil, nil)
	require.NoError(t, err)
	installSim(t, w, "model-a", nil)

	req := &types.InferenceRequest{ModelID: "model-a", InputData: "same input"}
	first, err := w.RunInference(context.Background(), req)
	require.NoError(t, err)
	second, err := w.RunInference(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Predictions, second.Predictions)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestCapacityGateRejectsOverflow(t *testing.T) {
	w, err := NewWorker(testConfig(2), nil, nil)
	require.NoError(t, err)
	installSim(t, w, "model-a", &SimPredictor{ModelID: "model-a", Latency: 300 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.RunInference(context.Background(), &types.InferenceRequest{
				ModelID: "model-a", InputData: "x",
			})
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return w.CurrentLoad() == 2 },
		time.Second, 5*time.Millisecond)

	// Third request fails fast rather than queuing.
	start := time.Now()
	_, err = w.RunInference(context.Background(), &types.InferenceRequest{
		ModelID: "model-a", InputData: "x",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrCapacityExceeded))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	wg.Wait()
	assert.Zero(t, w.CurrentLoad())
}

func TestCapacityReleasedOnFailure(t *testing.T) {
	w, err := NewWorker(testConfig(1), nil, nil)
	require.NoError(t, err)
	installSim(t, w, "model-a", &SimPredictor{ModelID: "model-a", Fail: errors.New("runtime exploded")})

	_, err = w.RunInference(context.Background(), &types.InferenceRequest{
		ModelID: "model-a", InputData: "x",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrExecutionError))

	// The slot must be free again even though the request failed.
	assert.Zero(t, w.CurrentLoad())
	installSim(t, w, "model-b", nil)
	_, err = w.RunInference(context.Background(), &types.InferenceRequest{
		ModelID: "model-b", InputData: "x",
	})
	assert.NoError(t, err)
}

func TestInferenceTimeout(t *testing.T) {
	w, err := NewWorker(testConfig(1), nil, nil)
	require.NoError(t, err)
	installSim(t, w, "model-a", &SimPredictor{ModelID: "model-a", Latency: 5 * time.Second})

	start := time.Now()
	_, err = w.RunInference(context.Background(), &types.InferenceRequest{
		ModelID:   "model-a",
		InputData: "x",
		Options:   &types.InferenceOptions{TimeoutMs: 50},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrInferenceTimeout))
	assert.Less(t, time.Since(start), time.Second)

	// The timeout is recorded as a failure.
	recent := w.History().Recent(1)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Success)
	assert.NotEmpty(t, recent[0].Error)
}

func TestModelNotPreloaded(t *testing.T) {
	w, err := NewWorker(testConfig(1), nil, nil)
	require.NoError(t, err)

	_, err = w.RunInference(context.Background(), &types.InferenceRequest{
		ModelID: "model-a", InputData: "x",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrModelNotAvailable))
}

func TestValidateInput(t *testing.T) {
	w, err := NewWorker(testConfig(1), nil, nil)
	require.NoError(t, err)
	installSim(t, w, "model-a", nil)

	tests := []struct {
		name  string
		input any
	}{
		{name: "nil", input: nil},
		{name: "empty string", input: ""},
		{name: "empty map", input: map[string]any{}},
		{name: "empty slice", input: []any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.RunInference(context.Background(), &types.InferenceRequest{
				ModelID: "model-a", InputData: tt.input,
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errdefs.ErrBadRequest))
		})
	}
}

func TestCheckCapacity(t *testing.T) {
	w, err := NewWorker(testConfig(4), nil, nil)
	require.NoError(t, err)
	installSim(t, w, "model-a", nil)

	report := w.CheckCapacity("")
	assert.Equal(t, 4, report.MaxConcurrent)
	assert.Equal(t, 0, report.CurrentLoad)
	assert.Equal(t, 4, report.Available)
	assert.Equal(t, []string{"model-a"}, report.AvailableModels)
	assert.Nil(t, report.ModelLoaded)

	report = w.CheckCapacity("model-a")
	require.NotNil(t, report.ModelLoaded)
	assert.True(t, *report.ModelLoaded)

	report = w.CheckCapacity("model-b")
	require.NotNil(t, report.ModelLoaded)
	assert.False(t, *report.ModelLoaded)
}

func TestUnloadModel(t *testing.T) {
	w, err := NewWorker(testConfig(1), nil, nil)
	require.NoError(t, err)
	installSim(t, w, "model-a", nil)

	require.NoError(t, w.UnloadModel("model-a"))
	assert.Empty(t, w.PreloadedModels())
	assert.Error(t, w.UnloadModel("model-a"))
}

func TestEvictionClearsPreloadedSet(t *testing.T) {
	cfg := testConfig(1)
	cfg.ModelCacheSize = 1
	w, err := NewWorker(cfg, nil, nil)
	require.NoError(t, err)

	installSim(t, w, "model-a", nil)
	installSim(t, w, "model-b", nil)

	assert.Equal(t, []string{"model-b"}, w.PreloadedModels())

	// The evicted model is gone from serving, not just from the cache.
	_, err = w.RunInference(context.Background(), &types.InferenceRequest{
		ModelID: "model-a", InputData: "x",
	})
	assert.True(t, errors.Is(err, errdefs.ErrModelNotAvailable))
}

type fakeFetcher struct {
	calls    atomic.Int64
	checksum string
	blob     []byte
	err      error
}

func (f *fakeFetcher) FetchModel(ctx context.Context, modelID string) (*types.ModelMetadata, []byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, nil, f.err
	}
	return &types.ModelMetadata{
		ModelID:  modelID,
		Version:  "1.0",
		Checksum: f.checksum,
	}, f.blob, nil
}

func TestLoadModelFetchesAndCaches(t *testing.T) {
	blob := []byte("weights")
	sum := sha256.Sum256(blob)
	fetcher := &fakeFetcher{blob: blob, checksum: hex.EncodeToString(sum[:])}

	w, err := NewWorker(testConfig(1), fetcher, nil)
	require.NoError(t, err)

	loaded, err := w.LoadModel(context.Background(), "model-a")
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, []string{"model-a"}, w.PreloadedModels())

	// Second load is a cache hit.
	loaded, err = w.LoadModel(context.Background(), "model-a")
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, int64(1), fetcher.calls.Load())
}

func TestLoadModelChecksumMismatch(t *testing.T) {
	fetcher := &fakeFetcher{blob: []byte("weights"), checksum: "0000"}

	w, err := NewWorker(testConfig(1), fetcher, nil)
	require.NoError(t, err)

	_, err = w.LoadModel(context.Background(), "model-a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrIntegrityMismatch))
	assert.Empty(t, w.PreloadedModels())
}

func TestLoadModelOutsideCapabilities(t *testing.T) {
	w, err := NewWorker(testConfig(1), &fakeFetcher{blob: []byte("x")}, nil)
	require.NoError(t, err)

	_, err = w.LoadModel(context.Background(), "unknown-model")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrModelNotAvailable))
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	blob := []byte("weights")
	sum := sha256.Sum256(blob)
	fetcher := &fakeFetcher{blob: blob, checksum: hex.EncodeToString(sum[:])}

	w, err := NewWorker(testConfig(1), fetcher, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.LoadModel(context.Background(), "model-a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), fetcher.calls.Load())
}

func TestHealthReport(t *testing.T) {
	w, err := NewWorker(testConfig(3), nil, nil)
	require.NoError(t, err)

	health := w.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 3, health.Capacity.MaxConcurrent)
	assert.GreaterOrEqual(t, health.UptimeSeconds, 0.0)
}
