package worker

import (
	"sync"
	"time"

	"github.com/infermesh/infermesh/pkg/types"
)

// DefaultHistorySize bounds the rolling inference history.
const DefaultHistorySize = 10000

// History is a bounded ring of inference records. Once full, the oldest
// record is overwritten; statistics are computed over the ring only, never
// all-time.
type History struct {
	mu      sync.RWMutex
	records []types.InferenceRecord
	next    int
	full    bool
}

// HistoryStats summarizes the records currently in the ring.
type HistoryStats struct {
	Count                 int           `json:"count"`
	Successes             int           `json:"successes"`
	Failures              int           `json:"failures"`
	AverageProcessingTime time.Duration `json:"averageProcessingTime"`
}

// NewHistory creates a ring with the given capacity; non-positive
// capacities fall back to the default.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{records: make([]types.InferenceRecord, capacity)}
}

// Append records one inference attempt.
func (h *History) Append(rec types.InferenceRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records[h.next] = rec
	h.next++
	if h.next == len(h.records) {
		h.next = 0
		h.full = true
	}
}

// Len returns the number of records currently held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.len()
}

// Recent returns up to n records, newest first.
func (h *History) Recent(n int) []types.InferenceRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := h.len()
	if n <= 0 || n > total {
		n = total
	}

	out := make([]types.InferenceRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.records)) % len(h.records)
		out = append(out, h.records[idx])
	}
	return out
}

// Stats computes summary statistics over the ring contents.
func (h *History) Stats() HistoryStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := h.len()
	stats := HistoryStats{Count: total}
	var totalTime time.Duration
	for i := 1; i <= total; i++ {
		idx := (h.next - i + len(h.records)) % len(h.records)
		rec := h.records[idx]
		if rec.Success {
			stats.Successes++
		} else {
			stats.Failures++
		}
		totalTime += rec.ProcessingTime
	}
	if total > 0 {
		stats.AverageProcessingTime = totalTime / time.Duration(total)
	}
	return stats
}

// caller holds h.mu
func (h *History) len() int {
	if h.full {
		return len(h.records)
	}
	return h.next
}
