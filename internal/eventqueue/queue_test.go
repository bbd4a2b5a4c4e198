package eventqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/capsim/internal/domain"
)

func agentEvent(ts float64) *domain.Event {
	return &domain.Event{Priority: domain.PriorityAgent, Timestamp: ts, Kind: domain.PublishPost}
}

func systemEvent(ts float64) *domain.Event {
	return &domain.Event{Priority: domain.PrioritySystem, Timestamp: ts, Kind: domain.DailyReset}
}

func TestPopOrdersByPriorityThenTimestampThenSeq(t *testing.T) {
	q := New(10)
	require.NoError(t, q.Push(agentEvent(5)))
	require.NoError(t, q.Push(systemEvent(5)))
	require.NoError(t, q.Push(agentEvent(1)))

	e1, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, domain.PrioritySystem, e1.Priority, "system priority wins regardless of timestamp")

	e2, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1.0, e2.Timestamp, "earlier timestamp wins within the same priority")

	e3, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 5.0, e3.Timestamp)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestPushRejectsWhenFullAndNewEventIsNotBetter(t *testing.T) {
	q := New(3)
	require.NoError(t, q.Push(agentEvent(1)))
	require.NoError(t, q.Push(agentEvent(2)))
	require.NoError(t, q.Push(agentEvent(3)))

	err := q.Push(agentEvent(4))
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, 3, q.Size())

	_, rejections := q.Stats()
	assert.Equal(t, uint64(1), rejections)
}

func TestPushEvictsWorstWhenNewEventIsBetter(t *testing.T) {
	q := New(3)
	require.NoError(t, q.Push(agentEvent(4)))
	require.NoError(t, q.Push(agentEvent(3)))
	require.NoError(t, q.Push(agentEvent(2)))

	err := q.Push(agentEvent(1))
	require.NoError(t, err)
	assert.Equal(t, 3, q.Size())

	evictions, _ := q.Stats()
	assert.Equal(t, uint64(1), evictions)

	// The evicted event should have been the worst (timestamp 4).
	var timestamps []float64
	for {
		e, ok := q.Pop()
		if !ok {
			break
		}
		timestamps = append(timestamps, e.Timestamp)
	}
	assert.Equal(t, []float64{1, 2, 3}, timestamps)
}

func TestSystemEventsAreNeverEvicted(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Push(systemEvent(1)))
	require.NoError(t, q.Push(systemEvent(2)))

	err := q.Push(agentEvent(0))
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, 2, q.Size())
}

func TestSizeNeverExceedsCapacity(t *testing.T) {
	q := New(5)
	for i := 0; i < 100; i++ {
		_ = q.Push(agentEvent(float64(100 - i)))
		assert.LessOrEqual(t, q.Size(), 5)
	}
}
