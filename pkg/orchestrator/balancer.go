package orchestrator

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/infermesh/infermesh/pkg/types"
)

// Balancer picks a worker from a candidate set and maintains the per-worker
// statistics the weighted and least-connections strategies feed on.
//
// CurrentLoad here is the orchestrator's own in-flight count per worker,
// bumped on dispatch and dropped on completion. It is a routing-side view
// and is independent of the worker's own admission gate.
type Balancer struct {
	mu       sync.Mutex
	strategy types.BalancingStrategy
	cursors  map[string]int
	stats    map[string]*types.WorkerStats
	rng      *rand.Rand
}

// NewBalancer creates a balancer with the given strategy.
func NewBalancer(strategy types.BalancingStrategy) (*Balancer, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown load balancing strategy %q", strategy)
	}
	return &Balancer{
		strategy: strategy,
		cursors:  make(map[string]int),
		stats:    make(map[string]*types.WorkerStats),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Strategy returns the configured discipline.
func (b *Balancer) Strategy() types.BalancingStrategy {
	return b.strategy
}

// Select picks one worker from candidates. key scopes the round-robin
// cursor, so each model rotates through its own worker set independently.
// Candidates must be non-empty and arrive in a stable order.
func (b *Balancer) Select(key string, candidates []*types.Worker) (*types.Worker, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates to select from")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.strategy {
	case types.StrategyRoundRobin:
		return b.selectRoundRobin(key, candidates), nil
	case types.StrategyLeastConnections:
		return b.selectLeastConnections(candidates), nil
	case types.StrategyWeighted:
		return b.selectWeighted(candidates), nil
	case types.StrategyRandom:
		return candidates[b.rng.Intn(len(candidates))], nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy %q", b.strategy)
	}
}

func (b *Balancer) selectRoundRobin(key string, candidates []*types.Worker) *types.Worker {
	idx := b.cursors[key] % len(candidates)
	b.cursors[key] = (idx + 1) % len(candidates)
	return candidates[idx]
}

// selectLeastConnections picks the worker with the fewest in-flight
// requests. Ties go to the earlier candidate, which is the lower id.
func (b *Balancer) selectLeastConnections(candidates []*types.Worker) *types.Worker {
	best := candidates[0]
	bestLoad := b.loadOf(best.ID)
	for _, w := range candidates[1:] {
		if load := b.loadOf(w.ID); load < bestLoad {
			best, bestLoad = w, load
		}
	}
	return best
}

// selectWeighted scores each worker by successRate * (1000 / avgMs) and
// picks proportionally. Workers with no recorded requests weigh 1.
func (b *Balancer) selectWeighted(candidates []*types.Worker) *types.Worker {
	weights := make([]float64, len(candidates))
	var total float64
	for i, w := range candidates {
		weights[i] = b.weightOf(w.ID)
		total += weights[i]
	}
	if total <= 0 {
		return candidates[b.rng.Intn(len(candidates))]
	}

	target := b.rng.Float64() * total
	var acc float64
	for i, w := range weights {
		acc += w
		if target < acc {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

func (b *Balancer) weightOf(workerID string) float64 {
	s, ok := b.stats[workerID]
	if !ok || s.RequestCount == 0 {
		return 1
	}
	avgMs := float64(s.AverageProcessingTime.Milliseconds())
	if avgMs < 1 {
		avgMs = 1
	}
	return s.SuccessRate() * (1000 / avgMs)
}

func (b *Balancer) loadOf(workerID string) int {
	if s, ok := b.stats[workerID]; ok {
		return s.CurrentLoad
	}
	return 0
}

// RecordDispatch marks a request in flight on the worker.
func (b *Balancer) RecordDispatch(workerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statsLocked(workerID).CurrentLoad++
}

// RecordCompletion folds one finished request into the worker's stats and
// releases the in-flight slot. Called on every outcome, success or not.
func (b *Balancer) RecordCompletion(workerID string, success bool, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.statsLocked(workerID)
	if s.CurrentLoad > 0 {
		s.CurrentLoad--
	}
	s.RequestCount++
	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	s.TotalProcessingTime += elapsed
	s.AverageProcessingTime = s.TotalProcessingTime / time.Duration(s.RequestCount)
	s.LastRequestTime = time.Now()
}

// Stats returns a copy of one worker's stats; zero stats when unknown.
func (b *Balancer) Stats(workerID string) types.WorkerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.stats[workerID]; ok {
		return *s
	}
	return types.WorkerStats{}
}

// AllStats returns a snapshot keyed by worker id.
func (b *Balancer) AllStats() map[string]types.WorkerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]types.WorkerStats, len(b.stats))
	for id, s := range b.stats {
		out[id] = *s
	}
	return out
}

// Forget drops stats and cursor references for an unregistered worker.
func (b *Balancer) Forget(workerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.stats, workerID)
}

func (b *Balancer) statsLocked(workerID string) *types.WorkerStats {
	s, ok := b.stats[workerID]
	if !ok {
		s = &types.WorkerStats{}
		b.stats[workerID] = s
	}
	return s
}
