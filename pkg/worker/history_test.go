package worker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/infermesh/infermesh/pkg/types"
)

func record(id string, success bool, d time.Duration) types.InferenceRecord {
	return types.InferenceRecord{
		InferenceID:    id,
		ModelID:        "m",
		ProcessingTime: d,
		Timestamp:      time.Now(),
		Success:        success,
	}
}

func TestHistoryRecentNewestFirst(t *testing.T) {
	h := NewHistory(10)
	h.Append(record("a", true, time.Millisecond))
	h.Append(record("b", true, time.Millisecond))
	h.Append(record("c", true, time.Millisecond))

	recent := h.Recent(2)
	assert.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].InferenceID)
	assert.Equal(t, "b", recent[1].InferenceID)

	// Asking for more than held returns everything.
	all := h.Recent(100)
	assert.Len(t, all, 3)
}

func TestHistoryRingOverwritesOldest(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(record(fmt.Sprintf("r%d", i), true, time.Millisecond))
	}

	assert.Equal(t, 3, h.Len())
	recent := h.Recent(3)
	assert.Equal(t, "r4", recent[0].InferenceID)
	assert.Equal(t, "r3", recent[1].InferenceID)
	assert.Equal(t, "r2", recent[2].InferenceID)
}

func TestHistoryStatsOverRingOnly(t *testing.T) {
	h := NewHistory(2)
	h.Append(record("old-failure", false, 100*time.Millisecond))
	h.Append(record("a", true, 10*time.Millisecond))
	h.Append(record("b", true, 20*time.Millisecond))

	// The failure was overwritten; stats cover the ring contents only.
	stats := h.Stats()
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 2, stats.Successes)
	assert.Zero(t, stats.Failures)
	assert.Equal(t, 15*time.Millisecond, stats.AverageProcessingTime)
}

func TestHistoryDefaultCapacity(t *testing.T) {
	h := NewHistory(0)
	assert.Zero(t, h.Len())
	h.Append(record("a", true, time.Millisecond))
	assert.Equal(t, 1, h.Len())
}
