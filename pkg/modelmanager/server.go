package modelmanager

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/infermesh/infermesh/pkg/api"
	"github.com/infermesh/infermesh/pkg/config"
	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/metrics"
	"github.com/infermesh/infermesh/pkg/modelregistry"
	"github.com/infermesh/infermesh/pkg/types"
)

// Server exposes the model manager over HTTP. Blobs travel base64-encoded
// inside JSON envelopes.
type Server struct {
	manager *Manager
	cfg     config.ModelManager
	engine  *gin.Engine
	http    *http.Server
}

// NewServer wires the model manager's HTTP surface.
func NewServer(manager *Manager, cfg config.ModelManager) *Server {
	s := &Server{
		manager: manager,
		cfg:     cfg,
		engine:  api.NewEngine("model-manager"),
	}
	s.routes()
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.engine,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	apiGroup := s.engine.Group("/api")
	{
		apiGroup.GET("/models", s.handleList)
		apiGroup.POST("/models", s.handleStore)
		apiGroup.GET("/models/search", s.handleSearch)
		apiGroup.GET("/models/:modelId", s.handleGet)
		apiGroup.GET("/models/:modelId/metadata", s.handleMetadata)
		apiGroup.GET("/models/:modelId/versions", s.handleVersions)
		apiGroup.PATCH("/models/:modelId", s.handleUpdate)
		apiGroup.DELETE("/models/:modelId", s.handleDelete)
		apiGroup.GET("/stats", s.handleStats)
	}
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	log.WithComponent("model-manager").Info().
		Int("port", s.cfg.Port).
		Str("storage_path", s.cfg.StoragePath).
		Msg("model manager server starting")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("model manager server failed: %w", err)
	}
	return nil
}

// Shutdown stops the listener and closes the metadata database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if closeErr := s.manager.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"models": s.manager.registry.Stats().TotalModels,
	})
}

// storeRequest is the upload envelope.
type storeRequest struct {
	ModelID   string    `json:"modelId"`
	ModelData string    `json:"modelData"`
	Metadata  ModelInfo `json:"metadata"`
}

func (s *Server) handleStore(c *gin.Context) {
	var req storeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, fmt.Errorf("%w: %v", errdefs.ErrBadRequest, err))
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.ModelData)
	if err != nil {
		api.Error(c, fmt.Errorf("%w: modelData must be base64: %v", errdefs.ErrInvalidModelData, err))
		return
	}

	meta, err := s.manager.StoreModel(req.ModelID, data, req.Metadata)
	if err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"stored": true, "metadata": meta})
}

func (s *Server) handleGet(c *gin.Context) {
	modelID := c.Param("modelId")
	meta, blob, err := s.manager.GetModel(modelID, c.Query("version"))
	if err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"modelId":   modelID,
		"metadata":  meta,
		"modelData": base64.StdEncoding.EncodeToString(blob),
	})
}

func (s *Server) handleMetadata(c *gin.Context) {
	meta, err := s.manager.GetMetadata(c.Param("modelId"), c.Query("version"))
	if err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (s *Server) handleList(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	models := s.manager.ListModels(c.Query("type"), limit)
	if models == nil {
		models = []*types.ModelMetadata{}
	}
	c.JSON(http.StatusOK, gin.H{"models": models, "count": len(models)})
}

func (s *Server) handleSearch(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	models := s.manager.SearchModels(modelregistry.Criteria{
		Type:  c.Query("type"),
		Query: c.Query("q"),
		Limit: limit,
	})
	if models == nil {
		models = []*types.ModelMetadata{}
	}
	c.JSON(http.StatusOK, gin.H{"models": models, "count": len(models)})
}

func (s *Server) handleVersions(c *gin.Context) {
	modelID := c.Param("modelId")
	if _, err := s.manager.GetMetadata(modelID, ""); err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modelId": modelID, "versions": s.manager.Versions(modelID)})
}

// updateRequest patches metadata and optionally replaces the blob.
type updateRequest struct {
	Type        *string `json:"type,omitempty"`
	Version     *string `json:"version,omitempty"`
	Description *string `json:"description,omitempty"`
	ModelData   *string `json:"modelData,omitempty"`
}

func (s *Server) handleUpdate(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, fmt.Errorf("%w: %v", errdefs.ErrBadRequest, err))
		return
	}

	var data []byte
	if req.ModelData != nil {
		decoded, err := base64.StdEncoding.DecodeString(*req.ModelData)
		if err != nil {
			api.Error(c, fmt.Errorf("%w: modelData must be base64: %v", errdefs.ErrInvalidModelData, err))
			return
		}
		data = decoded
	}

	meta, err := s.manager.UpdateModel(c.Param("modelId"), modelregistry.Patch{
		Type:        req.Type,
		Version:     req.Version,
		Description: req.Description,
	}, data)
	if err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true, "metadata": meta})
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.manager.DeleteModel(c.Param("modelId"), c.Query("version")); err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleStats(c *gin.Context) {
	catalog, store, err := s.manager.Stats()
	if err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"catalog": catalog, "storage": store})
}
