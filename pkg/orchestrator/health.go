package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/infermesh/infermesh/pkg/events"
	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/metrics"
	"github.com/infermesh/infermesh/pkg/rpc"
	"github.com/infermesh/infermesh/pkg/types"
)

// quarantineThreshold is the number of consecutive probe failures after
// which a worker stops receiving traffic.
const quarantineThreshold = 3

// probeTimeout bounds a single health check call.
const probeTimeout = 5 * time.Second

// HealthMonitor probes every registered worker on a fixed interval.
// Quarantined workers keep being probed; a single successful probe
// readmits them.
type HealthMonitor struct {
	registry *Registry
	clients  clientSource
	broker   *events.Broker
	interval time.Duration

	mu     sync.RWMutex
	states map[string]*types.HealthState
}

// clientSource resolves a transport to a worker. Implemented by the
// orchestrator's client pool.
type clientSource interface {
	clientFor(w *types.Worker) rpc.Client
}

// NewHealthMonitor creates a monitor over the registry.
func NewHealthMonitor(registry *Registry, clients clientSource, broker *events.Broker, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthMonitor{
		registry: registry,
		clients:  clients,
		broker:   broker,
		interval: interval,
		states:   make(map[string]*types.HealthState),
	}
}

// Run probes all workers until the context ends.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *HealthMonitor) probeAll(ctx context.Context) {
	workers := m.registry.List()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *types.Worker) {
			defer wg.Done()
			m.probe(ctx, w)
		}(w)
	}
	wg.Wait()

	m.prune(workers)
}

// probe performs one health check and applies the outcome.
func (m *HealthMonitor) probe(ctx context.Context, w *types.Worker) {
	client := m.clients.clientFor(w)

	raw, err := client.Call(ctx, rpc.MethodHealthCheck, nil, probeTimeout)
	if err != nil {
		m.recordFailure(w)
		return
	}

	var health types.WorkerHealth
	if decodeErr := rpc.Decode(raw, &health); decodeErr == nil {
		m.registry.UpdateCapacity(w.ID, types.Capacity{
			MaxConcurrent: health.Capacity.MaxConcurrent,
			CurrentLoad:   health.Capacity.CurrentLoad,
		})
	}
	m.recordSuccess(w)
}

func (m *HealthMonitor) recordFailure(w *types.Worker) {
	m.mu.Lock()
	s := m.stateLocked(w.ID)
	s.ConsecutiveFailures++
	s.TotalChecks++
	s.LastCheck = time.Now()
	failures := s.ConsecutiveFailures
	if failures >= quarantineThreshold {
		s.Status = types.HealthStatusUnhealthy
	}
	m.mu.Unlock()

	metrics.HealthProbeFailures.WithLabelValues(w.ID).Inc()

	if failures < quarantineThreshold {
		return
	}

	// Quarantine keys off the live registry status, not the probe-time
	// snapshot: a worker readmitted while failures kept accumulating must
	// be quarantined again on the next failed probe.
	cur := m.registry.Get(w.ID)
	if cur == nil || cur.Status != types.WorkerStatusActive {
		return
	}
	m.registry.UpdateStatus(w.ID, types.WorkerStatusUnhealthy)
	metrics.WorkersQuarantined.Inc()
	log.WithComponent("health").Warn().
		Str("worker_id", w.ID).
		Int("consecutive_failures", failures).
		Msg("worker quarantined")
	m.publish(events.EventWorkerQuarantined, "worker "+w.ID+" quarantined", w.ID)
}

func (m *HealthMonitor) recordSuccess(w *types.Worker) {
	m.mu.Lock()
	s := m.stateLocked(w.ID)
	wasUnhealthy := s.Status == types.HealthStatusUnhealthy
	s.ConsecutiveFailures = 0
	s.Status = types.HealthStatusHealthy
	s.TotalChecks++
	s.SuccessfulChecks++
	s.LastCheck = time.Now()
	m.mu.Unlock()

	if wasUnhealthy || w.Status == types.WorkerStatusUnhealthy {
		m.registry.UpdateStatus(w.ID, types.WorkerStatusActive)
		log.WithComponent("health").Info().Str("worker_id", w.ID).Msg("worker recovered")
		m.publish(events.EventWorkerRecovered, "worker "+w.ID+" recovered", w.ID)
	}
}

// States returns a snapshot of per-worker probe state.
func (m *HealthMonitor) States() map[string]types.HealthState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]types.HealthState, len(m.states))
	for id, s := range m.states {
		out[id] = *s
	}
	return out
}

// State returns one worker's probe state; unknown status when never probed.
func (m *HealthMonitor) State(workerID string) types.HealthState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.states[workerID]; ok {
		return *s
	}
	return types.HealthState{Status: types.HealthStatusUnknown}
}

// prune drops state for workers no longer in the registry.
func (m *HealthMonitor) prune(current []*types.Worker) {
	known := make(map[string]struct{}, len(current))
	for _, w := range current {
		known[w.ID] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.states {
		if _, ok := known[id]; !ok {
			delete(m.states, id)
		}
	}
}

func (m *HealthMonitor) stateLocked(workerID string) *types.HealthState {
	s, ok := m.states[workerID]
	if !ok {
		s = &types.HealthState{Status: types.HealthStatusUnknown}
		m.states[workerID] = s
	}
	return s
}

func (m *HealthMonitor) publish(eventType events.EventType, message, workerID string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     eventType,
		Message:  message,
		Metadata: map[string]string{"workerId": workerID},
	})
}
