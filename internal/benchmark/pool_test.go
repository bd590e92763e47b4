package benchmark_test

import (
	"context"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/tsbench/internal/benchmark"
)

func TestPoolAssignsDistinctIDs(t *testing.T) {
	sink := &recordingSink{}
	pool := benchmark.NewPool(nil)

	pool.Start(context.Background(), 5, fastPlan(1, 2), benchmark.NewRunState(), sink)
	require.Nil(t, pool.Wait(5*time.Second))

	ids := make(map[string]int)
	for _, r := range sink.snapshot() {
		id, _ := r.Tag(benchmark.TagWorkerID)
		ids[id]++
	}

	require.Len(t, ids, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 2, ids[strconv.Itoa(i)], "worker %d", i)
	}
	assert.Equal(t, 0, pool.Active())

	select {
	case <-pool.Done():
	default:
		t.Error("Done() not closed after all workers returned")
	}
}

func TestPoolWaitReportsAbandonedWorkers(t *testing.T) {
	sink := &recordingSink{delay: 300 * time.Millisecond}
	state := benchmark.NewRunState()
	pool := benchmark.NewPool(nil)

	pool.Start(context.Background(), 3, fastPlan(1, 10), state, sink)
	time.Sleep(50 * time.Millisecond)
	state.Cancel()

	abandoned := pool.Wait(20 * time.Millisecond)
	sort.Ints(abandoned)
	assert.Equal(t, []int{0, 1, 2}, abandoned)

	// Abandoned workers are not killed; they finish their in-flight write.
	require.Nil(t, pool.Wait(2*time.Second))
	assert.LessOrEqual(t, sink.calls.Load(), int64(3))
}

func TestPoolFailuresAndStats(t *testing.T) {
	sink := &recordingSink{fail: true}
	pool := benchmark.NewPool(nil)

	pool.Start(context.Background(), 2, fastPlan(1, 3), benchmark.NewRunState(), sink)
	require.Nil(t, pool.Wait(5*time.Second))

	assert.Equal(t, int64(6), pool.Failures())

	stats := pool.Stats()
	require.Len(t, stats, 2)
	for _, s := range stats {
		assert.Equal(t, benchmark.WorkerStateStopped, s.State)
		assert.Equal(t, int64(3), s.Failures)
		assert.Equal(t, int64(0), s.Written)
	}
}
