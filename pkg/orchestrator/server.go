package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/infermesh/infermesh/pkg/api"
	"github.com/infermesh/infermesh/pkg/config"
	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/events"
	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/metrics"
	"github.com/infermesh/infermesh/pkg/types"
)

// recentEventLimit caps the event window reported by /api/status.
const recentEventLimit = 50

// Server exposes the orchestrator's control surface over HTTP.
type Server struct {
	orch   *Orchestrator
	cfg    config.Orchestrator
	engine *gin.Engine
	http   *http.Server

	eventsMu sync.Mutex
	recent   []*events.Event
	sub      events.Subscriber
	subDone  chan struct{}
}

// NewServer wires the orchestrator's HTTP surface. When the orchestrator
// carries an event broker, the server tails it so /api/status can report
// recent control-plane events.
func NewServer(orch *Orchestrator, cfg config.Orchestrator) *Server {
	s := &Server{
		orch:   orch,
		cfg:    cfg,
		engine: api.NewEngine("orchestrator"),
	}
	s.routes()
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.engine,
	}

	if orch.broker != nil {
		s.sub = orch.broker.Subscribe()
		s.subDone = make(chan struct{})
		go s.collectEvents()
	}
	return s
}

// collectEvents keeps a sliding window of the latest broker events. Exits
// when Shutdown unsubscribes and the channel closes.
func (s *Server) collectEvents() {
	defer close(s.subDone)
	for ev := range s.sub {
		s.eventsMu.Lock()
		s.recent = append(s.recent, ev)
		if len(s.recent) > recentEventLimit {
			s.recent = s.recent[len(s.recent)-recentEventLimit:]
		}
		s.eventsMu.Unlock()
	}
}

func (s *Server) recentEvents() []*events.Event {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	out := make([]*events.Event, len(s.recent))
	copy(out, s.recent)
	return out
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	apiGroup := s.engine.Group("/api")
	{
		apiGroup.POST("/workers/register", s.handleRegister)
		apiGroup.DELETE("/workers/:workerId", s.handleUnregister)
		apiGroup.GET("/workers", s.handleListWorkers)
		apiGroup.POST("/workers/find", s.handleFindWorkers)
		apiGroup.POST("/inference/route", s.handleRoute)
		apiGroup.GET("/status", s.handleStatus)
	}
}

// Start runs the background loops and the listener, blocking until the
// listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	go s.orch.Run(ctx)

	log.WithComponent("orchestrator").Info().
		Int("port", s.cfg.Port).
		Str("strategy", string(s.cfg.LoadBalancingStrategy)).
		Msg("orchestrator server starting")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("orchestrator server failed: %w", err)
	}
	return nil
}

// Shutdown stops the listener, detaches from the event broker, and
// releases worker transports.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if s.sub != nil {
		s.orch.broker.Unsubscribe(s.sub)
		<-s.subDone
	}
	s.orch.Close()
	return err
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"workers": s.orch.Registry().Count(),
	})
}

func (s *Server) handleRegister(c *gin.Context) {
	var w types.Worker
	if err := c.ShouldBindJSON(&w); err != nil {
		api.Error(c, fmt.Errorf("%w: %v", errdefs.ErrBadRequest, err))
		return
	}
	if err := s.orch.RegisterWorker(&w); err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": true, "workerId": w.ID})
}

func (s *Server) handleUnregister(c *gin.Context) {
	if err := s.orch.UnregisterWorker(c.Param("workerId")); err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unregistered": true})
}

// workerView joins registry, balancer, and health views of one worker.
type workerView struct {
	*types.Worker
	Stats  types.WorkerStats `json:"stats"`
	Health types.HealthState `json:"health"`
}

func (s *Server) handleListWorkers(c *gin.Context) {
	workers := s.orch.Registry().List()

	out := make([]workerView, 0, len(workers))
	for _, w := range workers {
		out = append(out, workerView{
			Worker: w,
			Stats:  s.orch.Balancer().Stats(w.ID),
			Health: s.orch.Health().State(w.ID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"workers": out})
}

// findRequest narrows worker lookup by model and requirements.
type findRequest struct {
	ModelID      string              `json:"modelId"`
	Requirements *types.Requirements `json:"requirements,omitempty"`
}

func (s *Server) handleFindWorkers(c *gin.Context) {
	var req findRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, fmt.Errorf("%w: %v", errdefs.ErrBadRequest, err))
		return
	}

	workers, err := s.orch.FindWorkers(req.ModelID, req.Requirements)
	if err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers})
}

func (s *Server) handleRoute(c *gin.Context) {
	var req types.InferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, fmt.Errorf("%w: %v", errdefs.ErrBadRequest, err))
		return
	}

	result, err := s.orch.RouteInference(c.Request.Context(), &req)
	if err != nil {
		api.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleStatus(c *gin.Context) {
	workers := s.orch.Registry().List()

	var active, unhealthy int
	for _, w := range workers {
		if w.Status == types.WorkerStatusActive {
			active++
		} else {
			unhealthy++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"strategy": s.orch.Balancer().Strategy(),
		"workers": gin.H{
			"total":     len(workers),
			"active":    active,
			"unhealthy": unhealthy,
		},
		"stats":        s.orch.Balancer().AllStats(),
		"health":       s.orch.Health().States(),
		"recentEvents": s.recentEvents(),
	})
}
