package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/infermesh/infermesh/pkg/types"
)

// Backend is the worker-side contract the in-process transport dispatches
// to. *worker.Worker satisfies it.
type Backend interface {
	RunInference(ctx context.Context, req *types.InferenceRequest) (*types.InferenceResult, error)
	CheckCapacity(modelID string) *types.CapacityReport
	LoadModel(ctx context.Context, modelID string) (bool, error)
	UnloadModel(modelID string) error
	Health() *types.WorkerHealth
}

// LocalClient dispatches calls directly to a Backend in the same process.
// It keeps the same marshaling contract as the HTTP transport so tests
// exercise identical code paths in the orchestrator.
type LocalClient struct {
	backend Backend
}

// NewLocalClient wraps a backend.
func NewLocalClient(backend Backend) *LocalClient {
	return &LocalClient{backend: backend}
}

// Call dispatches the method to the backend under the given timeout.
func (c *LocalClient) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var result any
	switch method {
	case MethodRunInference:
		req, ok := params.(*types.InferenceRequest)
		if !ok {
			return nil, fmt.Errorf("runInference params must be *types.InferenceRequest, got %T", params)
		}
		res, err := c.backend.RunInference(ctx, req)
		if err != nil {
			return nil, err
		}
		result = res
	case MethodCheckCapacity:
		modelID, _ := params.(string)
		result = c.backend.CheckCapacity(modelID)
	case MethodLoadModel:
		modelID, ok := params.(string)
		if !ok {
			return nil, fmt.Errorf("loadModel params must be a model id string, got %T", params)
		}
		loaded, err := c.backend.LoadModel(ctx, modelID)
		if err != nil {
			return nil, err
		}
		result = map[string]bool{"loaded": loaded}
	case MethodUnloadModel:
		modelID, ok := params.(string)
		if !ok {
			return nil, fmt.Errorf("unloadModel params must be a model id string, got %T", params)
		}
		if err := c.backend.UnloadModel(modelID); err != nil {
			return nil, err
		}
		result = map[string]bool{"unloaded": true}
	case MethodHealthCheck:
		result = c.backend.Health()
	default:
		return nil, fmt.Errorf("unknown rpc method %q", method)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return raw, nil
}

// Close is a no-op for in-process transports.
func (c *LocalClient) Close() error {
	return nil
}

// Decode unmarshals a raw reply into out. Exposed so callers of Call can
// decode replies without repeating the json plumbing.
func Decode(raw json.RawMessage, out any) error {
	return decode(raw, out)
}
