package rpc

import (
	"context"
	"encoding/json"
	"time"
)

// Method names understood by every transport.
const (
	MethodRunInference  = "runInference"
	MethodCheckCapacity = "checkCapacity"
	MethodLoadModel     = "loadModel"
	MethodUnloadModel   = "unloadModel"
	MethodHealthCheck   = "healthCheck"
)

// Client is the narrow transport boundary between the orchestrator and a
// worker. Both the HTTP and the in-process implementations satisfy it, so
// routing logic can be exercised without a network.
type Client interface {
	// Call invokes a named method with JSON-marshalable params, bounded by
	// the timeout. The reply is the raw JSON result.
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)

	// Close releases the underlying transport. Pending calls complete or
	// fail; subsequent calls error.
	Close() error
}

// decode unmarshals a raw reply into out, tolerating a nil target.
func decode(raw json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
