package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corelog/pkg/types"
)

func newTestQueue(mainCap, protectedCap int) *DualQueue {
	return New(Config{
		MainCapacity:      mainCap,
		ProtectedCapacity: protectedCap,
		ProtectedLevels:   []types.Level{types.LevelError, types.LevelCritical},
	})
}

func TestTryEnqueueRoutesByLevel(t *testing.T) {
	q := newTestQueue(4, 4)
	require.True(t, q.TryEnqueue(types.LogEnvelope{Level: types.LevelInfo}))
	require.True(t, q.TryEnqueue(types.LogEnvelope{Level: types.LevelError}))

	main, protected := q.Depths()
	assert.Equal(t, 1, main)
	assert.Equal(t, 1, protected)
}

func TestTryEnqueueDropsWhenFullAndIncrementsCounter(t *testing.T) {
	q := newTestQueue(1, 1)
	require.True(t, q.TryEnqueue(types.LogEnvelope{Level: types.LevelInfo}))
	require.False(t, q.TryEnqueue(types.LogEnvelope{Level: types.LevelInfo}))

	main, protected := q.DroppedCounts()
	assert.Equal(t, int64(1), main)
	assert.Equal(t, int64(0), protected)
}

func TestTryDequeueDrainsProtectedFirst(t *testing.T) {
	q := newTestQueue(4, 4)
	q.TryEnqueue(types.LogEnvelope{Level: types.LevelInfo, Message: "main"})
	q.TryEnqueue(types.LogEnvelope{Level: types.LevelError, Message: "protected"})

	v, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "protected", v.Message)

	v, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "main", v.Message)
}

func TestSheddingSkipsMainLane(t *testing.T) {
	q := newTestQueue(4, 4)
	q.TryEnqueue(types.LogEnvelope{Level: types.LevelInfo, Message: "main"})
	q.ActivateShedding()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "main lane must not be served while shedding")

	q.DeactivateShedding()
	v, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "main", v.Message)
}

func TestDrainIntoIgnoresShedding(t *testing.T) {
	q := newTestQueue(4, 4)
	q.TryEnqueue(types.LogEnvelope{Level: types.LevelInfo, Message: "main"})
	q.TryEnqueue(types.LogEnvelope{Level: types.LevelCritical, Message: "protected"})
	q.ActivateShedding()

	var batch []types.LogEnvelope
	q.DrainInto(&batch)

	require.Len(t, batch, 2)
	assert.Equal(t, "protected", batch[0].Message)
	assert.Equal(t, "main", batch[1].Message)
}

func TestGrowCapacityIsMonotonic(t *testing.T) {
	q := newTestQueue(2, 2)
	q.GrowCapacity(10, 10)
	assert.Equal(t, 10, q.MainCapacity())

	q.GrowCapacity(1, 1)
	assert.Equal(t, 10, q.MainCapacity(), "capacity must never shrink")
}

func TestGrowCapacityPreservesFIFOOrder(t *testing.T) {
	q := newTestQueue(2, 2)
	q.TryEnqueue(types.LogEnvelope{Level: types.LevelInfo, Message: "1"})
	q.TryEnqueue(types.LogEnvelope{Level: types.LevelInfo, Message: "2"})
	q.GrowCapacity(4, 4)
	q.TryEnqueue(types.LogEnvelope{Level: types.LevelInfo, Message: "3"})

	v, _ := q.TryDequeue()
	assert.Equal(t, "1", v.Message)
	v, _ = q.TryDequeue()
	assert.Equal(t, "2", v.Message)
	v, _ = q.TryDequeue()
	assert.Equal(t, "3", v.Message)
}

func TestConcurrentProducersNoLostEventsWithinCapacity(t *testing.T) {
	const n = 500
	q := newTestQueue(n, 0)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.TryEnqueue(types.LogEnvelope{Level: types.LevelInfo})
		}(i)
	}
	wg.Wait()

	var batch []types.LogEnvelope
	q.DrainInto(&batch)
	assert.Len(t, batch, n)
}
