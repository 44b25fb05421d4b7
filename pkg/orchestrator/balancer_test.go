package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermesh/infermesh/pkg/types"
)

func candidates(ids ...string) []*types.Worker {
	out := make([]*types.Worker, 0, len(ids))
	for _, id := range ids {
		out = append(out, &types.Worker{ID: id, Status: types.WorkerStatusActive})
	}
	return out
}

func TestNewBalancerRejectsUnknownStrategy(t *testing.T) {
	_, err := NewBalancer("fastest-first")
	assert.Error(t, err)
}

func TestSelectEmptyCandidates(t *testing.T) {
	b, err := NewBalancer(types.StrategyRandom)
	require.NoError(t, err)
	_, err = b.Select("m", nil)
	assert.Error(t, err)
}

func TestRoundRobinRotatesPerKey(t *testing.T) {
	b, err := NewBalancer(types.StrategyRoundRobin)
	require.NoError(t, err)

	pool := candidates("w1", "w2", "w3")

	var picks []string
	for i := 0; i < 6; i++ {
		w, err := b.Select("model-a", pool)
		require.NoError(t, err)
		picks = append(picks, w.ID)
	}
	assert.Equal(t, []string{"w1", "w2", "w3", "w1", "w2", "w3"}, picks)

	// A different key rotates independently.
	w, err := b.Select("model-b", pool)
	require.NoError(t, err)
	assert.Equal(t, "w1", w.ID)
}

func TestRoundRobinSurvivesShrinkingPool(t *testing.T) {
	b, err := NewBalancer(types.StrategyRoundRobin)
	require.NoError(t, err)

	pool := candidates("w1", "w2", "w3")
	for i := 0; i < 2; i++ {
		_, err := b.Select("m", pool)
		require.NoError(t, err)
	}

	// Cursor sits at 2; with only one candidate left the modulo keeps the
	// selection in range.
	w, err := b.Select("m", candidates("w9"))
	require.NoError(t, err)
	assert.Equal(t, "w9", w.ID)
}

func TestLeastConnectionsPrefersIdleWorker(t *testing.T) {
	b, err := NewBalancer(types.StrategyLeastConnections)
	require.NoError(t, err)

	pool := candidates("w1", "w2")

	b.RecordDispatch("w1")
	b.RecordDispatch("w1")
	b.RecordDispatch("w2")

	w, err := b.Select("m", pool)
	require.NoError(t, err)
	assert.Equal(t, "w2", w.ID)

	// Ties break toward the first candidate.
	b.RecordDispatch("w2")
	w, err = b.Select("m", pool)
	require.NoError(t, err)
	assert.Equal(t, "w1", w.ID)
}

func TestWeightedFavorsFastSuccessfulWorker(t *testing.T) {
	b, err := NewBalancer(types.StrategyWeighted)
	require.NoError(t, err)

	// w1 is fast and reliable, w2 slow and failing.
	for i := 0; i < 20; i++ {
		b.RecordDispatch("w1")
		b.RecordCompletion("w1", true, 5*time.Millisecond)
		b.RecordDispatch("w2")
		b.RecordCompletion("w2", i%2 == 0, 500*time.Millisecond)
	}

	pool := candidates("w1", "w2")
	counts := map[string]int{}
	for i := 0; i < 500; i++ {
		w, err := b.Select("m", pool)
		require.NoError(t, err)
		counts[w.ID]++
	}

	// w1's weight is two orders of magnitude higher; it must dominate.
	assert.Greater(t, counts["w1"], counts["w2"]*10)
}

func TestWeightedFreshWorkerWeighsOne(t *testing.T) {
	b, err := NewBalancer(types.StrategyWeighted)
	require.NoError(t, err)

	// fast weighs 100 (perfect at 10ms); fresh has never been dispatched
	// and weighs 1, so it trails heavily but is never fully starved.
	for i := 0; i < 20; i++ {
		b.RecordDispatch("fast")
		b.RecordCompletion("fast", true, 10*time.Millisecond)
	}

	pool := candidates("fast", "fresh")
	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		w, err := b.Select("m", pool)
		require.NoError(t, err)
		counts[w.ID]++
	}

	assert.Greater(t, counts["fast"], counts["fresh"]*10)
	assert.Greater(t, counts["fresh"], 0)
}

func TestRandomCoversAllCandidates(t *testing.T) {
	b, err := NewBalancer(types.StrategyRandom)
	require.NoError(t, err)

	pool := candidates("w1", "w2", "w3")
	seen := map[string]bool{}
	for i := 0; i < 300; i++ {
		w, err := b.Select("m", pool)
		require.NoError(t, err)
		seen[w.ID] = true
	}
	assert.Len(t, seen, 3)
}

func TestRecordCompletionAccumulatesStats(t *testing.T) {
	b, err := NewBalancer(types.StrategyRoundRobin)
	require.NoError(t, err)

	b.RecordDispatch("w1")
	assert.Equal(t, 1, b.Stats("w1").CurrentLoad)

	b.RecordCompletion("w1", true, 10*time.Millisecond)
	b.RecordDispatch("w1")
	b.RecordCompletion("w1", false, 30*time.Millisecond)

	s := b.Stats("w1")
	assert.Equal(t, int64(2), s.RequestCount)
	assert.Equal(t, int64(1), s.SuccessCount)
	assert.Equal(t, int64(1), s.FailureCount)
	assert.Equal(t, 20*time.Millisecond, s.AverageProcessingTime)
	assert.Zero(t, s.CurrentLoad)
	assert.Equal(t, 0.5, s.SuccessRate())
}

func TestStatsForUnknownWorker(t *testing.T) {
	b, err := NewBalancer(types.StrategyRoundRobin)
	require.NoError(t, err)

	s := b.Stats("ghost")
	assert.Zero(t, s.RequestCount)
	assert.Equal(t, 1.0, s.SuccessRate())
}

func TestForget(t *testing.T) {
	b, err := NewBalancer(types.StrategyRoundRobin)
	require.NoError(t, err)

	b.RecordDispatch("w1")
	b.Forget("w1")
	assert.Zero(t, b.Stats("w1").CurrentLoad)
	assert.Empty(t, b.AllStats())
}
