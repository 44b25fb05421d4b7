package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermesh/infermesh/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.True(t, cfg.Gateway.Authentication.Enabled)
	assert.Equal(t, 100, cfg.Gateway.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, cfg.Gateway.RateLimit.Window())

	assert.Equal(t, 8081, cfg.Orchestrator.Port)
	assert.Equal(t, types.StrategyRoundRobin, cfg.Orchestrator.LoadBalancingStrategy)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.HealthCheckInterval())
	assert.Equal(t, 10*time.Second, cfg.Orchestrator.DiscoveryInterval())
	assert.Equal(t, time.Minute, cfg.Orchestrator.RequestTimeout())

	assert.Equal(t, 8082, cfg.Worker.Port)
	assert.Equal(t, 10, cfg.Worker.MaxConcurrentInferences)
	assert.Equal(t, 30*time.Second, cfg.Worker.InferenceTimeout())
	assert.Equal(t, 5, cfg.Worker.ModelCacheSize)

	assert.Equal(t, 8083, cfg.ModelManager.Port)
	assert.Equal(t, "1GB", cfg.ModelManager.MaxModelSize)
	assert.True(t, cfg.ModelManager.ChecksumValidation)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
gateway:
  port: 9090
  rateLimit:
    enabled: true
    windowMs: 1000
    maxRequests: 5
orchestrator:
  loadBalancingStrategy: least-connections
worker:
  id: edge-worker-1
  maxConcurrentInferences: 3
  capabilities:
    - model-a
    - "tag:gpu"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Gateway.Port)
	assert.Equal(t, 5, cfg.Gateway.RateLimit.MaxRequests)
	assert.Equal(t, types.StrategyLeastConnections, cfg.Orchestrator.LoadBalancingStrategy)
	assert.Equal(t, "edge-worker-1", cfg.Worker.ID)
	assert.Equal(t, 3, cfg.Worker.MaxConcurrentInferences)
	assert.Equal(t, []string{"model-a", "tag:gpu"}, cfg.Worker.Capabilities)

	// Untouched sections keep their defaults.
	assert.Equal(t, 8083, cfg.ModelManager.Port)
	assert.Equal(t, 5, cfg.Worker.ModelCacheSize)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown strategy", content: "orchestrator:\n  loadBalancingStrategy: fastest\n"},
		{name: "zero concurrency", content: "worker:\n  maxConcurrentInferences: 0\n"},
		{name: "negative cache", content: "worker:\n  modelCacheSize: -1\n"},
		{name: "bad yaml", content: "worker: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}
