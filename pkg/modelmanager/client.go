package modelmanager

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/types"
)

// Client fetches models from a remote model manager. Fetches are idempotent
// GETs, so transient failures are retried with backoff.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// NewClient creates a model manager client for the given base URL.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    rc,
	}
}

// modelEnvelope mirrors the model manager's GET /api/models/:modelId reply.
type modelEnvelope struct {
	ModelID   string               `json:"modelId"`
	Metadata  *types.ModelMetadata `json:"metadata"`
	ModelData string               `json:"modelData"`
}

// FetchModel retrieves a model's metadata and decoded blob. Satisfies the
// worker's fetcher interface.
func (c *Client) FetchModel(ctx context.Context, modelID string) (*types.ModelMetadata, []byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/models/"+url.PathEscape(modelID), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errdefs.ErrTransportError, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errdefs.ErrTransportError, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errdefs.ErrTransportError, err)
	}

	if resp.StatusCode >= 400 {
		return nil, nil, remoteError(resp.StatusCode, raw, modelID)
	}

	var envelope modelEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed model manager response: %v", errdefs.ErrTransportError, err)
	}
	if envelope.Metadata == nil {
		return nil, nil, fmt.Errorf("%w: model manager response missing metadata", errdefs.ErrTransportError)
	}

	blob, err := base64.StdEncoding.DecodeString(envelope.ModelData)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: model payload is not base64: %v", errdefs.ErrInvalidModelData, err)
	}
	return envelope.Metadata, blob, nil
}

func remoteError(status int, raw []byte, modelID string) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Code != "" {
		if kind := errdefs.FromCode(body.Error.Code); kind != nil {
			return fmt.Errorf("%w: %s", kind, body.Error.Message)
		}
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", errdefs.ErrModelNotFound, modelID)
	}
	return fmt.Errorf("%w: model manager returned HTTP %d", errdefs.ErrTransportError, status)
}
