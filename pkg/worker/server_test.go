package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/rpc"
	"github.com/infermesh/infermesh/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
	gin.SetMode(gin.TestMode)
}

func startWorkerServer(t *testing.T) (*Worker, *httptest.Server) {
	t.Helper()

	cfg := testConfig(2)
	w, err := NewWorker(cfg, nil, nil)
	require.NoError(t, err)
	installSim(t, w, "model-a", nil)

	srv := httptest.NewServer(NewServer(w, cfg).Handler())
	t.Cleanup(srv.Close)
	return w, srv
}

func TestServerServesRPCSurface(t *testing.T) {
	_, srv := startWorkerServer(t)
	client := rpc.NewHTTPClient(srv.URL)
	defer client.Close()

	// healthCheck
	raw, err := client.Call(context.Background(), rpc.MethodHealthCheck, nil, time.Second)
	require.NoError(t, err)
	var health types.WorkerHealth
	require.NoError(t, rpc.Decode(raw, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Capacity.MaxConcurrent)

	// checkCapacity with a model filter
	raw, err = client.Call(context.Background(), rpc.MethodCheckCapacity, "model-a", time.Second)
	require.NoError(t, err)
	var report types.CapacityReport
	require.NoError(t, rpc.Decode(raw, &report))
	require.NotNil(t, report.ModelLoaded)
	assert.True(t, *report.ModelLoaded)

	// runInference
	raw, err = client.Call(context.Background(), rpc.MethodRunInference, &types.InferenceRequest{
		ModelID:   "model-a",
		InputData: "hello",
	}, time.Second)
	require.NoError(t, err)
	var result types.InferenceResult
	require.NoError(t, rpc.Decode(raw, &result))
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.InferenceID)

	// unloadModel
	raw, err = client.Call(context.Background(), rpc.MethodUnloadModel, "model-a", time.Second)
	require.NoError(t, err)
	var unloaded map[string]bool
	require.NoError(t, rpc.Decode(raw, &unloaded))
	assert.True(t, unloaded["unloaded"])
}

func TestServerErrorEnvelope(t *testing.T) {
	_, srv := startWorkerServer(t)

	resp, err := http.Post(srv.URL+"/api/inference/not-loaded", "application/json",
		strings.NewReader(`{"inputData":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "ModelNotAvailable", envelope.Error.Code)
	assert.NotEmpty(t, envelope.Error.Message)
}

func TestServerHistoryEndpoint(t *testing.T) {
	w, srv := startWorkerServer(t)

	_, err := w.RunInference(context.Background(), &types.InferenceRequest{
		ModelID: "model-a", InputData: "x",
	})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/history?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Records []types.InferenceRecord `json:"records"`
		Stats   HistoryStats            `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Records, 1)
	assert.True(t, body.Records[0].Success)
	assert.Equal(t, 1, body.Stats.Successes)
}

func TestAdvertisedWorker(t *testing.T) {
	cfg := testConfig(2)
	cfg.Port = 9100
	w, err := NewWorker(cfg, nil, nil)
	require.NoError(t, err)

	s := NewServer(w, cfg)
	adv := s.AdvertisedWorker()
	assert.Equal(t, "w1", adv.ID)
	assert.Equal(t, "localhost:9100", adv.Address)
	assert.Equal(t, types.WorkerStatusActive, adv.Status)
	assert.Equal(t, []string{"model-a", "model-b"}, adv.Capabilities.Models)

	cfg.AdvertiseAddress = "worker-1.internal:9100"
	s = NewServer(w, cfg)
	assert.Equal(t, "worker-1.internal:9100", s.AdvertisedWorker().Address)
}
