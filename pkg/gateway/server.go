package gateway

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

	"github.com/gin-gonic/gin"

	"github.com/infermesh/infermesh/pkg/api"
	"github.com/infermesh/infermesh/pkg/config"
	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/metrics"
	"github.com/infermesh/infermesh/pkg/types"
)

// Server is the public edge of the cluster. It authenticates and rate
// limits callers, then forwards to the orchestrator and the model manager.
type Server struct {
	cfg      config.Gateway
	keystore *Keystore
	limiter  *RateLimiter
	engine   *gin.Engine
	http     *http.Server

	downstream *http.Client
}

// NewServer wires the gateway's HTTP surface.
func NewServer(cfg config.Gateway) *Server {
	s := &Server{
		cfg:        cfg,
		keystore:   NewKeystore(cfg.Authentication),
		limiter:    NewRateLimiter(cfg.RateLimit),
		engine:     api.NewEngine("gateway"),
		downstream: &http.Client{Timeout: 90 * time.Second},
	}
	s.routes()
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.engine,
	}
	return s
}

func (s *Server) routes() {
	s.engine.Use(api.GatewayMetrics())
	if len(s.cfg.CORS.Origins) > 0 {
		s.engine.Use(corsMiddleware(s.cfg.CORS.Origins))
	}

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.engine.Group("/api/v1")
	if s.cfg.RateLimit.Enabled {
		v1.Use(RateLimitMiddleware(s.limiter))
	}
	if s.cfg.Authentication.Enabled {
		v1.Use(AuthMiddleware(s.keystore))
	}
	{
		v1.POST("/inference/:modelId", RequirePermission("inference"), s.handleInference)
		v1.GET("/models", RequirePermission("models:read"), s.handleListModels)
		v1.GET("/models/:modelId", RequirePermission("models:read"), s.handleGetModel)
		v1.POST("/models", RequirePermission("models:write"), s.handleStoreModel)
		v1.GET("/status", RequirePermission("status"), s.handleStatus)

		keys := v1.Group("/keys", RequirePermission("admin"))
		keys.GET("", s.handleListKeys)
		keys.POST("", s.handleIssueKey)
		keys.DELETE("/:key", s.handleRevokeKey)
	}
}

// Start runs the limiter sweeper and the listener, blocking until the
// listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.RateLimit.Enabled {
		go s.limiter.Run(ctx)
	}

	log.WithComponent("gateway").Info().
		Int("port", s.cfg.Port).
		Bool("authentication", s.cfg.Authentication.Enabled).
		Bool("rate_limit", s.cfg.RateLimit.Enabled).
		Msg("gateway server starting")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Keystore exposes the key table for the CLI and tests.
func (s *Server) Keystore() *Keystore {
	return s.keystore
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// inferenceBody is the public inference payload.
type inferenceBody struct {
	InputData any                     `json:"inputData"`
	Options   *types.InferenceOptions `json:"options,omitempty"`
}

func (s *Server) handleInference(c *gin.Context) {
	var body inferenceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		api.Error(c, fmt.Errorf("%w: %v", errdefs.ErrBadRequest, err))
		return
	}
	if body.InputData == nil {
		api.Error(c, fmt.Errorf("%w: inputData is required", errdefs.ErrBadRequest))
		return
	}

	req := &types.InferenceRequest{
		ModelID:   c.Param("modelId"),
		InputData: body.InputData,
		Options:   body.Options,
	}

	raw, err := s.call(c.Request.Context(), http.MethodPost,
		s.cfg.OrchestratorURL+"/api/inference/route", req)
	if err != nil {
		api.Error(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (s *Server) handleListModels(c *gin.Context) {
	target := s.cfg.ModelManagerURL + "/api/models"
	if query := c.Request.URL.RawQuery; query != "" {
		target += "?" + query
	}
	raw, err := s.call(c.Request.Context(), http.MethodGet, target, nil)
	if err != nil {
		api.Error(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (s *Server) handleGetModel(c *gin.Context) {
	target := s.cfg.ModelManagerURL + "/api/models/" + url.PathEscape(c.Param("modelId")) + "/metadata"
	if version := c.Query("version"); version != "" {
		target += "?version=" + url.QueryEscape(version)
	}
	raw, err := s.call(c.Request.Context(), http.MethodGet, target, nil)
	if err != nil {
		api.Error(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (s *Server) handleStoreModel(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		api.Error(c, fmt.Errorf("%w: %v", errdefs.ErrBadRequest, err))
		return
	}

	raw, err := s.call(c.Request.Context(), http.MethodPost,
		s.cfg.ModelManagerURL+"/api/models", json.RawMessage(payload))
	if err != nil {
		api.Error(c, err)
		return
	}
	c.Data(http.StatusCreated, "application/json", raw)
}

// handleStatus aggregates downstream health. An unreachable service is
// reported, not fatal.
func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"gateway": gin.H{
			"status":         "healthy",
			"trackedClients": s.limiter.ClientCount(),
		},
	}

	if raw, err := s.call(c.Request.Context(), http.MethodGet, s.cfg.OrchestratorURL+"/api/status", nil); err == nil {
		status["orchestrator"] = json.RawMessage(raw)
	} else {
		status["orchestrator"] = gin.H{"status": "unreachable", "error": err.Error()}
	}

	if raw, err := s.call(c.Request.Context(), http.MethodGet, s.cfg.ModelManagerURL+"/api/stats", nil); err == nil {
		status["modelManager"] = json.RawMessage(raw)
	} else {
		status["modelManager"] = gin.H{"status": "unreachable", "error": err.Error()}
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) handleListKeys(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"keys": s.keystore.List()})
}

// issueKeyRequest names a new key and its grants.
type issueKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

func (s *Server) handleIssueKey(c *gin.Context) {
	var req issueKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, fmt.Errorf("%w: %v", errdefs.ErrBadRequest, err))
		return
	}
	if req.Name == "" {
		api.Error(c, fmt.Errorf("%w: key name is required", errdefs.ErrBadRequest))
		return
	}
	if len(req.Permissions) == 0 {
		req.Permissions = []string{"inference", "models:read", "status"}
	}

	key, err := s.keystore.Issue(req.Name, req.Permissions)
	if err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key": key})
}

func (s *Server) handleRevokeKey(c *gin.Context) {
	if !s.keystore.Revoke(c.Param("key")) {
		api.Error(c, fmt.Errorf("%w: unknown key", errdefs.ErrBadRequest))
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// call forwards a JSON request downstream and returns the raw reply.
// Downstream error envelopes are resolved back to their kinds, so the
// caller-facing status matches the origin service's verdict.
func (s *Server) call(ctx context.Context, method, target string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errdefs.ErrBadRequest, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrUnavailable, err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.downstream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if jsonErr := json.Unmarshal(raw, &envelope); jsonErr == nil && envelope.Error.Code != "" {
			if kind := errdefs.FromCode(envelope.Error.Code); kind != nil {
				return nil, fmt.Errorf("%w: %s", kind, envelope.Error.Message)
			}
		}
		return nil, fmt.Errorf("%w: downstream returned HTTP %d", errdefs.ErrUnavailable, resp.StatusCode)
	}
	return raw, nil
}

// corsMiddleware reflects allowed origins and answers preflights.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			_, ok := allowed[origin]
			if allowAll || ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", strings.Join([]string{"Content-Type", "X-Api-Key", "Authorization"}, ", "))
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
