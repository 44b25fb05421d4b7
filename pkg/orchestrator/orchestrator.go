package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/infermesh/infermesh/pkg/config"
	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/events"
	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/metrics"
	"github.com/infermesh/infermesh/pkg/rpc"
	"github.com/infermesh/infermesh/pkg/types"
)

// ClientFactory builds a transport for a worker address. Overridable so
// tests can route calls in-process.
type ClientFactory func(address string) rpc.Client

// Discovery finds workers outside the push registration path. The default
// deployment has none; workers announce themselves.
type Discovery interface {
	DiscoverWorkers(ctx context.Context) ([]*types.Worker, error)
}

// Orchestrator routes inference requests across registered workers.
type Orchestrator struct {
	cfg      config.Orchestrator
	registry *Registry
	balancer *Balancer
	health   *HealthMonitor
	broker   *events.Broker

	discovery Discovery
	factory   ClientFactory

	clientMu sync.Mutex
	clients  map[string]workerClient
}

type workerClient struct {
	address string
	client  rpc.Client
}

// Option customizes orchestrator construction.
type Option func(*Orchestrator)

// WithClientFactory overrides the worker transport.
func WithClientFactory(f ClientFactory) Option {
	return func(o *Orchestrator) { o.factory = f }
}

// WithDiscovery installs a worker discovery source polled on the discovery
// interval.
func WithDiscovery(d Discovery) Option {
	return func(o *Orchestrator) { o.discovery = d }
}

// New assembles an orchestrator from config. The broker may be nil.
func New(cfg config.Orchestrator, broker *events.Broker, opts ...Option) (*Orchestrator, error) {
	balancer, err := NewBalancer(cfg.LoadBalancingStrategy)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:      cfg,
		registry: NewRegistry(broker),
		balancer: balancer,
		broker:   broker,
		clients:  make(map[string]workerClient),
		factory: func(address string) rpc.Client {
			return rpc.NewHTTPClient(address)
		},
	}
	for _, opt := range opts {
		opt(o)
	}

	o.health = NewHealthMonitor(o.registry, o, broker, cfg.HealthCheckInterval())
	return o, nil
}

// Registry exposes the worker table.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Balancer exposes selection statistics.
func (o *Orchestrator) Balancer() *Balancer {
	return o.balancer
}

// Health exposes probe state.
func (o *Orchestrator) Health() *HealthMonitor {
	return o.health
}

// Run starts the health and discovery loops and blocks until the context
// ends.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.health.Run(ctx)
	}()

	if o.discovery != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.runDiscovery(ctx)
		}()
	}

	wg.Wait()
}

// RegisterWorker admits a worker into the routing pool.
func (o *Orchestrator) RegisterWorker(w *types.Worker) error {
	if w.ID == "" {
		return fmt.Errorf("%w: worker id is required", errdefs.ErrBadRequest)
	}
	if w.Address == "" {
		return fmt.Errorf("%w: worker address is required", errdefs.ErrBadRequest)
	}
	o.registry.Register(w)
	return nil
}

// UnregisterWorker removes a worker, its stats, and its cached transport.
func (o *Orchestrator) UnregisterWorker(workerID string) error {
	if !o.registry.Unregister(workerID) {
		return fmt.Errorf("%w: %s", errdefs.ErrWorkerNotFound, workerID)
	}
	o.balancer.Forget(workerID)
	o.dropClient(workerID)
	return nil
}

// FindWorkers returns the active workers that can serve the model, narrowed
// by the optional requirements.
func (o *Orchestrator) FindWorkers(modelID string, reqs *types.Requirements) ([]*types.Worker, error) {
	if modelID == "" {
		return nil, fmt.Errorf("%w: model id is required", errdefs.ErrBadRequest)
	}

	candidates := o.registry.WorkersForModel(modelID)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no workers serve model %s", errdefs.ErrNoWorkersAvailable, modelID)
	}

	filtered := filterByRequirements(candidates, reqs)
	if len(filtered) == 0 {
		return nil, fmt.Errorf("%w: %d workers serve model %s but none match requirements",
			errdefs.ErrNoWorkersMatchRequirements, len(candidates), modelID)
	}
	return filtered, nil
}

// RouteInference selects one worker for the request and dispatches it.
// There is no failover: once a worker is chosen the request succeeds or
// fails on that worker. Retrying elsewhere could double-execute work that
// already ran past its response.
func (o *Orchestrator) RouteInference(ctx context.Context, req *types.InferenceRequest) (*types.RouteResult, error) {
	if req == nil || req.ModelID == "" {
		return nil, fmt.Errorf("%w: model id is required", errdefs.ErrBadRequest)
	}

	var reqs *types.Requirements
	if req.Options != nil {
		reqs = req.Options.Requirements
	}
	candidates, err := o.FindWorkers(req.ModelID, reqs)
	if err != nil {
		metrics.InferenceRequestsTotal.WithLabelValues(req.ModelID, "rejected").Inc()
		return nil, err
	}

	worker, err := o.balancer.Select(req.ModelID, candidates)
	if err != nil {
		return nil, err
	}

	timeout := o.cfg.RequestTimeout()
	if req.Options != nil && req.Options.TimeoutMs > 0 {
		timeout = time.Duration(req.Options.TimeoutMs) * time.Millisecond
	}

	client := o.clientFor(worker)

	o.balancer.RecordDispatch(worker.ID)
	metrics.WorkerLoad.WithLabelValues(worker.ID).Set(float64(o.balancer.Stats(worker.ID).CurrentLoad))

	timer := metrics.NewTimer()
	raw, callErr := client.Call(ctx, rpc.MethodRunInference, req, timeout)
	elapsed := timer.Elapsed()

	o.balancer.RecordCompletion(worker.ID, callErr == nil, elapsed)
	metrics.WorkerLoad.WithLabelValues(worker.ID).Set(float64(o.balancer.Stats(worker.ID).CurrentLoad))
	metrics.RoutingDuration.WithLabelValues(req.ModelID).Observe(elapsed.Seconds())

	if callErr != nil {
		metrics.InferenceRequestsTotal.WithLabelValues(req.ModelID, "failure").Inc()
		o.publish(events.EventInferenceFailed,
			fmt.Sprintf("inference for %s failed on %s", req.ModelID, worker.ID), worker.ID, req.ModelID)
		log.WithComponent("orchestrator").Warn().
			Err(callErr).
			Str("worker_id", worker.ID).
			Str("model_id", req.ModelID).
			Msg("inference dispatch failed")
		return nil, routeError(callErr, worker.ID)
	}

	var result types.InferenceResult
	if err := rpc.Decode(raw, &result); err != nil {
		metrics.InferenceRequestsTotal.WithLabelValues(req.ModelID, "failure").Inc()
		return nil, fmt.Errorf("%w: malformed worker response: %v", errdefs.ErrTransportError, err)
	}

	metrics.InferenceRequestsTotal.WithLabelValues(req.ModelID, "success").Inc()
	o.publish(events.EventInferenceRouted,
		fmt.Sprintf("inference for %s served by %s", req.ModelID, worker.ID), worker.ID, req.ModelID)

	return &types.RouteResult{
		Success:  true,
		Result:   &result,
		WorkerID: worker.ID,
		RoutedAt: time.Now(),
	}, nil
}

// routeError keeps kind errors from the worker intact and wraps bare
// transport failures as Unavailable so the caller sees a routing outcome,
// not a socket error.
func routeError(err error, workerID string) error {
	if code := errdefs.Code(err); code != "TransportError" && code != "InternalError" {
		return err
	}
	return fmt.Errorf("%w: worker %s unreachable: %v", errdefs.ErrUnavailable, workerID, err)
}

// clientFor returns the pooled transport for a worker, rebuilding it when
// the worker re-registered under a new address.
func (o *Orchestrator) clientFor(w *types.Worker) rpc.Client {
	o.clientMu.Lock()
	defer o.clientMu.Unlock()

	if wc, ok := o.clients[w.ID]; ok {
		if wc.address == w.Address {
			return wc.client
		}
		wc.client.Close()
	}

	client := o.factory(w.Address)
	o.clients[w.ID] = workerClient{address: w.Address, client: client}
	return client
}

func (o *Orchestrator) dropClient(workerID string) {
	o.clientMu.Lock()
	defer o.clientMu.Unlock()

	if wc, ok := o.clients[workerID]; ok {
		wc.client.Close()
		delete(o.clients, workerID)
	}
}

// Close releases all pooled transports.
func (o *Orchestrator) Close() {
	o.clientMu.Lock()
	defer o.clientMu.Unlock()

	for id, wc := range o.clients {
		wc.client.Close()
		delete(o.clients, id)
	}
}

func (o *Orchestrator) runDiscovery(ctx context.Context) {
	interval := o.cfg.DiscoveryInterval()
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			found, err := o.discovery.DiscoverWorkers(ctx)
			if err != nil {
				log.WithComponent("orchestrator").Warn().Err(err).Msg("worker discovery failed")
				continue
			}
			for _, w := range found {
				o.registry.Register(w)
			}
		}
	}
}

// filterByRequirements keeps workers that hold every requested capability
// and, when minCapacity is set, whose current load is strictly below it.
func filterByRequirements(workers []*types.Worker, reqs *types.Requirements) []*types.Worker {
	if reqs == nil {
		return workers
	}

	out := make([]*types.Worker, 0, len(workers))
	for _, w := range workers {
		if !hasAllCapabilities(w, reqs.Capabilities) {
			continue
		}
		if reqs.MinCapacity > 0 && w.Capacity.CurrentLoad >= reqs.MinCapacity {
			continue
		}
		out = append(out, w)
	}
	return out
}

func hasAllCapabilities(w *types.Worker, capabilities []string) bool {
	for _, c := range capabilities {
		if !w.Capabilities.Has(c) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) publish(eventType events.EventType, message, workerID, modelID string) {
	if o.broker == nil {
		return
	}
	o.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		Message: message,
		Metadata: map[string]string{
			"workerId": workerID,
			"modelId":  modelID,
		},
	})
}
