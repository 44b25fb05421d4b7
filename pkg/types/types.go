package types

import (
	"time"
)

// Worker represents an inference worker registered with the orchestrator.
type Worker struct {
	ID           string       `json:"id"`
	Address      string       `json:"address"`
	Capabilities Capabilities `json:"capabilities"`
	Capacity     Capacity     `json:"capacity"`
	Status       WorkerStatus `json:"status"`
	RegisteredAt time.Time    `json:"registeredAt"`
	LastSeen     time.Time    `json:"lastSeen"`
}

// Capabilities advertises what a worker can do: the models it can serve
// plus opaque feature tags ("gpu", "fp16", ...).
type Capabilities struct {
	Models []string `json:"models"`
	Tags   []string `json:"tags"`
}

// Has reports whether the capability set contains the given tag,
// either as a feature tag or as a model id.
func (c Capabilities) Has(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	for _, m := range c.Models {
		if m == tag {
			return true
		}
	}
	return false
}

// Capacity tracks a worker's concurrency budget.
type Capacity struct {
	MaxConcurrent int `json:"maxConcurrent"`
	CurrentLoad   int `json:"currentLoad"`
}

// WorkerStatus represents the selection eligibility of a worker.
type WorkerStatus string

const (
	WorkerStatusActive    WorkerStatus = "active"
	WorkerStatusUnhealthy WorkerStatus = "unhealthy"
)

// WorkerStats accumulates per-worker request outcomes. Maintained by the
// orchestrator's load balancer, never by the worker itself.
type WorkerStats struct {
	RequestCount          int64         `json:"requestCount"`
	SuccessCount          int64         `json:"successCount"`
	FailureCount          int64         `json:"failureCount"`
	TotalProcessingTime   time.Duration `json:"totalProcessingTime"`
	AverageProcessingTime time.Duration `json:"averageProcessingTime"`
	CurrentLoad           int           `json:"currentLoad"`
	LastRequestTime       time.Time     `json:"lastRequestTime"`
}

// SuccessRate returns successes over requests, defaulting to 1 when the
// worker has not served anything yet.
func (s WorkerStats) SuccessRate() float64 {
	if s.RequestCount == 0 {
		return 1.0
	}
	return float64(s.SuccessCount) / float64(s.RequestCount)
}

// HealthState tracks probe outcomes for a single worker.
type HealthState struct {
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	TotalChecks         int64        `json:"totalChecks"`
	SuccessfulChecks    int64        `json:"successfulChecks"`
	LastCheck           time.Time    `json:"lastCheck"`
}

// HealthStatus is the probe-derived health of a worker.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// ModelMetadata describes a stored model. The ModelID is immutable;
// everything else may change via update.
type ModelMetadata struct {
	ModelID     string    `json:"modelId"`
	Type        string    `json:"type"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	StorageKey  string    `json:"storageKey"`
	Checksum    string    `json:"checksum"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// StoreResult is returned by the model store after a successful write.
type StoreResult struct {
	StorageKey string `json:"storageKey"`
	Checksum   string `json:"checksum"`
	Size       int64  `json:"size"`
}

// StoreStats summarizes blob storage usage.
type StoreStats struct {
	FileCount    int   `json:"fileCount"`
	TotalBytes   int64 `json:"totalBytes"`
	MaxModelSize int64 `json:"maxModelSize"`
}

// InferenceRequest is the routed unit of work.
type InferenceRequest struct {
	ModelID   string            `json:"modelId"`
	InputData any               `json:"inputData"`
	Options   *InferenceOptions `json:"options,omitempty"`
}

// InferenceOptions carries per-request knobs.
type InferenceOptions struct {
	// TimeoutMs bounds predict execution on the worker. Zero means the
	// worker's configured default.
	TimeoutMs    int           `json:"timeout,omitempty"`
	Requirements *Requirements `json:"requirements,omitempty"`
}

// Requirements narrows candidate selection during routing.
type Requirements struct {
	Capabilities []string `json:"capabilities,omitempty"`
	// MinCapacity requires the worker's current load to be strictly below
	// this value. Zero means unconstrained.
	MinCapacity int `json:"minCapacity,omitempty"`
}

// InferenceResult is the worker's normalized response envelope.
type InferenceResult struct {
	InferenceID    string         `json:"inferenceId"`
	ModelID        string         `json:"modelId"`
	Predictions    any            `json:"predictions"`
	Confidence     float64        `json:"confidence"`
	ProcessingTime time.Duration  `json:"processingTime"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Success        bool           `json:"success"`
}

// RouteResult wraps an inference result with routing provenance.
type RouteResult struct {
	Success  bool             `json:"success"`
	Result   *InferenceResult `json:"result"`
	WorkerID string           `json:"workerId"`
	RoutedAt time.Time        `json:"routedAt"`
}

// InferenceRecord is one entry of a worker's rolling history.
type InferenceRecord struct {
	InferenceID    string        `json:"inferenceId"`
	ModelID        string        `json:"modelId"`
	ProcessingTime time.Duration `json:"processingTime"`
	Timestamp      time.Time     `json:"timestamp"`
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
}

// CapacityReport answers a worker capacity query.
type CapacityReport struct {
	MaxConcurrent   int      `json:"maxConcurrent"`
	CurrentLoad     int      `json:"currentLoad"`
	Available       int      `json:"available"`
	AvailableModels []string `json:"availableModels"`
	ModelLoaded     *bool    `json:"modelLoaded,omitempty"`
}

// WorkerHealth answers a worker health probe.
type WorkerHealth struct {
	Status        string         `json:"status"`
	Capacity      CapacityReport `json:"capacity"`
	UptimeSeconds float64        `json:"uptime"`
}

// APIKey is an opaque credential held by the gateway keystore.
type APIKey struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUsed    time.Time `json:"lastUsed"`
}

// HasPermission reports whether the key grants the named permission.
// Holding "*" grants everything.
func (k *APIKey) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == "*" || p == perm {
			return true
		}
	}
	return false
}

// BalancingStrategy names a worker-selection discipline.
type BalancingStrategy string

const (
	StrategyRoundRobin       BalancingStrategy = "round-robin"
	StrategyLeastConnections BalancingStrategy = "least-connections"
	StrategyWeighted         BalancingStrategy = "weighted"
	StrategyRandom           BalancingStrategy = "random"
)

// Valid reports whether the strategy is one of the known disciplines.
func (s BalancingStrategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyLeastConnections, StrategyWeighted, StrategyRandom:
		return true
	}
	return false
}
