package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/types"
)

// HTTPClient speaks the worker's JSON-over-HTTP surface. One instance is
// shared by all orchestrator calls to a single worker for that worker's
// active lifetime.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for a worker address. The address may omit
// the scheme; http is assumed.
func NewHTTPClient(address string) *HTTPClient {
	base := address
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{},
	}
}

// Call maps the method name onto the worker's HTTP surface and performs the
// request under the given timeout.
func (c *HTTPClient) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	httpMethod, path, body, err := c.route(method, params)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrTransportError, err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s timed out", errdefs.ErrInferenceTimeout, method)
		}
		return nil, fmt.Errorf("%w: %v", errdefs.ErrTransportError, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrTransportError, err)
	}

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp.StatusCode, raw)
	}
	return raw, nil
}

// Close is a no-op for the pooled HTTP transport; idle connections are
// released.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) route(method string, params any) (httpMethod, path string, body any, err error) {
	switch method {
	case MethodRunInference:
		req, ok := params.(*types.InferenceRequest)
		if !ok {
			return "", "", nil, fmt.Errorf("runInference params must be *types.InferenceRequest, got %T", params)
		}
		return http.MethodPost, "/api/inference/" + url.PathEscape(req.ModelID), req, nil
	case MethodCheckCapacity:
		path := "/api/capacity"
		if modelID, ok := params.(string); ok && modelID != "" {
			path += "?model=" + url.QueryEscape(modelID)
		}
		return http.MethodGet, path, nil, nil
	case MethodLoadModel:
		modelID, ok := params.(string)
		if !ok {
			return "", "", nil, fmt.Errorf("loadModel params must be a model id string, got %T", params)
		}
		return http.MethodPost, "/api/models/" + url.PathEscape(modelID) + "/load", nil, nil
	case MethodUnloadModel:
		modelID, ok := params.(string)
		if !ok {
			return "", "", nil, fmt.Errorf("unloadModel params must be a model id string, got %T", params)
		}
		return http.MethodPost, "/api/models/" + url.PathEscape(modelID) + "/unload", nil, nil
	case MethodHealthCheck:
		return http.MethodGet, "/health", nil, nil
	default:
		return "", "", nil, fmt.Errorf("unknown rpc method %q", method)
	}
}

// errorBody is the error envelope every service edge emits.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(status int, raw []byte) error {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Code != "" {
		if kind := errdefs.FromCode(body.Error.Code); kind != nil {
			return fmt.Errorf("%w: %s", kind, body.Error.Message)
		}
		return fmt.Errorf("remote error %s: %s", body.Error.Code, body.Error.Message)
	}
	return fmt.Errorf("%w: HTTP %d", errdefs.ErrTransportError, status)
}
