package worker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/infermesh/infermesh/pkg/api"
	"github.com/infermesh/infermesh/pkg/config"
	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/metrics"
	"github.com/infermesh/infermesh/pkg/types"
)

// Server exposes a worker over HTTP. The routes mirror the rpc method set
// so the orchestrator's HTTP client can drive any worker.
type Server struct {
	worker *Worker
	cfg    config.Worker
	engine *gin.Engine
	http   *http.Server
}

// NewServer wires the worker's HTTP surface.
func NewServer(w *Worker, cfg config.Worker) *Server {
	s := &Server{
		worker: w,
		cfg:    cfg,
		engine: api.NewEngine("worker"),
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
		apiGroup.POST("/inference/:modelId", s.handleInference)
		apiGroup.GET("/capacity", s.handleCapacity)
		apiGroup.POST("/models/:modelId/load", s.handleLoadModel)
		apiGroup.POST("/models/:modelId/unload", s.handleUnloadModel)
		apiGroup.GET("/history", s.handleHistory)
	}
}

// Start begins serving and announces the worker to the orchestrator. It
// blocks until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.OrchestratorURL != "" {
		go s.register(ctx)
	}

	log.WithWorkerID(s.worker.ID()).Info().
		Int("port", s.cfg.Port).
		Strs("models", s.worker.Capabilities().Models).
		Msg("worker server starting")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("worker server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.worker.Health())
}

// inferenceBody is the inference request payload. The model id rides in the
// path; a body modelId is accepted but the path wins.
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

	req := &types.InferenceRequest{
		ModelID:   c.Param("modelId"),
		InputData: body.InputData,
		Options:   body.Options,
	}

	result, err := s.worker.RunInference(c.Request.Context(), req)
	if err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCapacity(c *gin.Context) {
	c.JSON(http.StatusOK, s.worker.CheckCapacity(c.Query("model")))
}

func (s *Server) handleLoadModel(c *gin.Context) {
	loaded, err := s.worker.LoadModel(c.Request.Context(), c.Param("modelId"))
	if err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": loaded})
}

func (s *Server) handleUnloadModel(c *gin.Context) {
	if err := s.worker.UnloadModel(c.Param("modelId")); err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unloaded": true})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"records": s.worker.History().Recent(limit),
		"stats":   s.worker.History().Stats(),
	})
}

// AdvertisedWorker describes this worker the way the orchestrator's registry
// expects it.
func (s *Server) AdvertisedWorker() *types.Worker {
	address := s.cfg.AdvertiseAddress
	if address == "" {
		address = fmt.Sprintf("localhost:%d", s.cfg.Port)
	}
	return &types.Worker{
		ID:           s.worker.ID(),
		Address:      address,
		Capabilities: s.worker.Capabilities(),
		Capacity: types.Capacity{
			MaxConcurrent: s.cfg.MaxConcurrentInferences,
			CurrentLoad:   s.worker.CurrentLoad(),
		},
		Status: types.WorkerStatusActive,
	}
}
