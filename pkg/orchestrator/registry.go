package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/infermesh/infermesh/pkg/events"
	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/metrics"
	"github.com/infermesh/infermesh/pkg/types"
)

// Registry tracks registered workers together with secondary indexes by
// model and by tag. The indexes and the worker table always change under
// the same lock, so a lookup never sees a worker in one and not the other.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*types.Worker
	byModel map[string]map[string]struct{}
	byTag   map[string]map[string]struct{}

	broker *events.Broker
}

// NewRegistry creates an empty worker registry. broker may be nil.
func NewRegistry(broker *events.Broker) *Registry {
	return &Registry{
		workers: make(map[string]*types.Worker),
		byModel: make(map[string]map[string]struct{}),
		byTag:   make(map[string]map[string]struct{}),
		broker:  broker,
	}
}

// Register adds a worker or refreshes an existing registration. On
// re-registration the mutable fields (address, capabilities, capacity) are
// overwritten while RegisteredAt and Status are preserved, so a periodic
// announce cannot readmit a quarantined worker; only a successful health
// probe does. Returns true for a new worker.
func (r *Registry) Register(w *types.Worker) bool {
	now := time.Now()

	r.mu.Lock()
	existing, ok := r.workers[w.ID]
	if ok {
		r.dropIndexesLocked(existing)
	}

	stored := &types.Worker{
		ID:           w.ID,
		Address:      w.Address,
		Capabilities: w.Capabilities,
		Capacity:     w.Capacity,
		Status:       types.WorkerStatusActive,
		RegisteredAt: now,
		LastSeen:     now,
	}
	if ok {
		stored.RegisteredAt = existing.RegisteredAt
		stored.Status = existing.Status
	}
	r.workers[w.ID] = stored
	r.addIndexesLocked(stored)
	r.mu.Unlock()

	r.updateGauges()

	if !ok {
		log.WithComponent("registry").Info().
			Str("worker_id", w.ID).
			Str("address", w.Address).
			Strs("models", w.Capabilities.Models).
			Msg("worker registered")
		r.publish(events.EventWorkerRegistered, "worker "+w.ID+" registered", w.ID)
	}
	return !ok
}

// Unregister removes a worker and all its index entries. Returns false when
// the worker is unknown.
func (r *Registry) Unregister(workerID string) bool {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	if ok {
		r.dropIndexesLocked(w)
		delete(r.workers, workerID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.updateGauges()
	log.WithComponent("registry").Info().Str("worker_id", workerID).Msg("worker unregistered")
	r.publish(events.EventWorkerUnregistered, "worker "+workerID+" unregistered", workerID)
	return true
}

// Get returns a copy of the worker, or nil when unknown.
func (r *Registry) Get(workerID string) *types.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[workerID]
	if !ok {
		return nil
	}
	cp := *w
	return &cp
}

// List returns copies of all workers, ordered by id.
func (r *Registry) List() []*types.Worker {
	r.mu.RLock()
	out := make([]*types.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		cp := *w
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WorkersForModel returns active workers advertising the model, ordered by
// id so selection strategies see a stable candidate order.
func (r *Registry) WorkersForModel(modelID string) []*types.Worker {
	r.mu.RLock()
	ids := r.byModel[modelID]
	out := make([]*types.Worker, 0, len(ids))
	for id := range ids {
		if w := r.workers[id]; w != nil && w.Status == types.WorkerStatusActive {
			cp := *w
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WorkersWithCapability returns active workers holding the capability,
// which may be a tag or a model id.
func (r *Registry) WorkersWithCapability(capability string) []*types.Worker {
	r.mu.RLock()
	seen := make(map[string]struct{})
	for id := range r.byTag[capability] {
		seen[id] = struct{}{}
	}
	for id := range r.byModel[capability] {
		seen[id] = struct{}{}
	}
	out := make([]*types.Worker, 0, len(seen))
	for id := range seen {
		if w := r.workers[id]; w != nil && w.Status == types.WorkerStatusActive {
			cp := *w
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateStatus transitions a worker between active and unhealthy and stamps
// LastSeen. Returns false when the worker is unknown.
func (r *Registry) UpdateStatus(workerID string, status types.WorkerStatus) bool {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	if ok {
		w.Status = status
		w.LastSeen = time.Now()
	}
	r.mu.Unlock()

	if ok {
		r.updateGauges()
	}
	return ok
}

// UpdateCapacity refreshes the last reported concurrency numbers.
func (r *Registry) UpdateCapacity(workerID string, capacity types.Capacity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return false
	}
	w.Capacity = capacity
	w.LastSeen = time.Now()
	return true
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

func (r *Registry) addIndexesLocked(w *types.Worker) {
	for _, m := range w.Capabilities.Models {
		if r.byModel[m] == nil {
			r.byModel[m] = make(map[string]struct{})
		}
		r.byModel[m][w.ID] = struct{}{}
	}
	for _, t := range w.Capabilities.Tags {
		if r.byTag[t] == nil {
			r.byTag[t] = make(map[string]struct{})
		}
		r.byTag[t][w.ID] = struct{}{}
	}
}

func (r *Registry) dropIndexesLocked(w *types.Worker) {
	for _, m := range w.Capabilities.Models {
		delete(r.byModel[m], w.ID)
		if len(r.byModel[m]) == 0 {
			delete(r.byModel, m)
		}
	}
	for _, t := range w.Capabilities.Tags {
		delete(r.byTag[t], w.ID)
		if len(r.byTag[t]) == 0 {
			delete(r.byTag, t)
		}
	}
}

func (r *Registry) updateGauges() {
	r.mu.RLock()
	var active, unhealthy float64
	for _, w := range r.workers {
		if w.Status == types.WorkerStatusActive {
			active++
		} else {
			unhealthy++
		}
	}
	r.mu.RUnlock()

	metrics.WorkersTotal.WithLabelValues(string(types.WorkerStatusActive)).Set(active)
	metrics.WorkersTotal.WithLabelValues(string(types.WorkerStatusUnhealthy)).Set(unhealthy)
}

func (r *Registry) publish(eventType events.EventType, message, workerID string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     eventType,
		Message:  message,
		Metadata: map[string]string{"workerId": workerID},
	})
}
