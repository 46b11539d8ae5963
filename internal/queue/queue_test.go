package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queuedObservation stands in for the recorder rows buffered between the
// frame loop and the flush goroutine.
type queuedObservation struct {
	FrameIndex uint64
	MarkerID   int
}

func TestQueueNew(t *testing.T) {
	q := New[queuedObservation]()
	require.NotNil(t, q)
	assert.True(t, q.Empty())
	assert.Equal(t, 0, q.Len())
}

func TestQueuePush(t *testing.T) {
	q := New[queuedObservation]()

	q.Push(queuedObservation{FrameIndex: 1, MarkerID: 7})
	assert.Equal(t, 1, q.Len())

	q.Push(queuedObservation{FrameIndex: 2, MarkerID: 7}, queuedObservation{FrameIndex: 2, MarkerID: 11})
	assert.Equal(t, 3, q.Len())
}

func TestQueuePop(t *testing.T) {
	q := New[queuedObservation]()

	// Pop on an empty queue returns the zero value.
	assert.Equal(t, queuedObservation{}, q.Pop())

	q.Push(queuedObservation{FrameIndex: 1, MarkerID: 7}, queuedObservation{FrameIndex: 1, MarkerID: 11})

	first := q.Pop()
	assert.Equal(t, 7, first.MarkerID)
	assert.Equal(t, 1, q.Len())

	second := q.Pop()
	assert.Equal(t, 11, second.MarkerID)
	assert.True(t, q.Empty())
}

func TestQueueClear(t *testing.T) {
	q := New[queuedObservation]()
	q.Push(queuedObservation{MarkerID: 1}, queuedObservation{MarkerID: 2}, queuedObservation{MarkerID: 3})

	q.Clear()

	assert.True(t, q.Empty())
	assert.Equal(t, 0, q.Len())
}

func TestQueueGetAndEmpty(t *testing.T) {
	q := New[queuedObservation]()
	q.Push(
		queuedObservation{FrameIndex: 1, MarkerID: 7},
		queuedObservation{FrameIndex: 2, MarkerID: 7},
		queuedObservation{FrameIndex: 3, MarkerID: 7},
	)

	drained := q.GetAndEmpty()

	require.Len(t, drained, 3)
	// Flush order must match detection order.
	assert.Equal(t, uint64(1), drained[0].FrameIndex)
	assert.Equal(t, uint64(2), drained[1].FrameIndex)
	assert.Equal(t, uint64(3), drained[2].FrameIndex)
	assert.True(t, q.Empty())
}

func TestQueueConcurrentPush(t *testing.T) {
	q := New[queuedObservation]()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(frame uint64) {
			defer wg.Done()
			q.Push(queuedObservation{FrameIndex: frame, MarkerID: 7})
		}(uint64(i))
	}
	wg.Wait()

	assert.Equal(t, 100, q.Len())
}

func TestQueueConcurrentGetAndEmpty(t *testing.T) {
	q := New[queuedObservation]()
	for i := 0; i < 100; i++ {
		q.Push(queuedObservation{FrameIndex: uint64(i)})
	}

	var wg sync.WaitGroup
	results := make(chan []queuedObservation, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- q.GetAndEmpty()
		}()
	}
	wg.Wait()
	close(results)

	// Every observation is handed to exactly one drainer.
	total := 0
	for r := range results {
		total += len(r)
	}
	assert.Equal(t, 100, total)
}

func TestQueueElementTypes(t *testing.T) {
	ids := New[int]()
	ids.Push(3, 7, 9)
	assert.Equal(t, 3, ids.Pop())
	assert.Equal(t, 2, ids.Len())

	mats := New[[16]float64]()
	var m [16]float64
	m[12] = 1.5
	mats.Push(m)
	assert.Equal(t, 1.5, mats.Pop()[12])
}
