// Package eventqueue implements the priority-ordered, bounded-capacity
// pending-event queue (spec §4.2), grounded on the container/heap-based
// ClusterEventQueue pattern used for cross-instance event ordering in
// the inference-sim example (other_examples).
package eventqueue

import (
	"container/heap"
	"fmt"

	"github.com/talgya/capsim/internal/domain"
)

// ErrFull is returned by Push when the new event cannot be admitted —
// the queue is at capacity and the new event isn't strictly better
// than the current worst entry (spec §4.2). It wraps domain.ErrQueueFull.
var ErrFull = fmt.Errorf("eventqueue: full: %w", domain.ErrQueueFull)

// DefaultCapacity is MAX_QUEUE_SIZE's default (spec §6.1).
const DefaultCapacity = 5000

// Queue is a priority queue over *domain.Event ordered by
// (priority desc, timestamp asc, insertion-seq asc).
type Queue struct {
	capacity int
	nextSeq  uint64
	heap     eventHeap

	// evictions counts events admitted by evicting a worse peer;
	// rejections counts enqueues refused outright. Engine.enqueue adds
	// both kinds to the queue_full_total observable counter (spec §6.4).
	evictions  uint64
	rejections uint64
}

// New creates a Queue with the given capacity. A capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{capacity: capacity}
	heap.Init(&q.heap)
	return q
}

// Size returns the number of pending events.
func (q *Queue) Size() int { return q.heap.Len() }

// PeekTimestamp returns the timestamp of the next event to pop, and
// whether the queue is non-empty.
func (q *Queue) PeekTimestamp() (float64, bool) {
	if q.heap.Len() == 0 {
		return 0, false
	}
	return q.heap[0].Timestamp, true
}

// Push admits an event, assigning it the next insertion sequence
// number. If the queue is at capacity, admission control (spec §4.2)
// either evicts the current worst event (when the new event strictly
// outranks it and the worst isn't a SYSTEM event) or rejects the push
// with ErrFull.
func (q *Queue) Push(e *domain.Event) error {
	e.SetSeq(q.nextSeq)
	q.nextSeq++

	if q.heap.Len() < q.capacity {
		heap.Push(&q.heap, e)
		return nil
	}

	worstIdx := q.heap.worstIndex()
	worst := q.heap[worstIdx]

	if worst.Priority == domain.PrioritySystem {
		// System events are never eviction candidates.
		q.rejections++
		return ErrFull
	}
	if !less(e, worst) {
		// The new event isn't strictly better than the worst present.
		q.rejections++
		return ErrFull
	}

	heap.Remove(&q.heap, worstIdx)
	heap.Push(&q.heap, e)
	q.evictions++
	return nil
}

// Pop removes and returns the highest-priority, earliest-timestamp
// event. Returns (nil, false) if the queue is empty.
func (q *Queue) Pop() (*domain.Event, bool) {
	if q.heap.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&q.heap).(*domain.Event), true
}

// Stats returns the lifetime eviction/rejection counters.
func (q *Queue) Stats() (evictions, rejections uint64) {
	return q.evictions, q.rejections
}

// less reports whether a outranks b under the queue's ordering
// (higher priority first, then earlier timestamp, then earlier seq).
func less(a, b *domain.Event) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Seq() < b.Seq()
}

// eventHeap is the container/heap.Interface implementation backing Queue.
type eventHeap []*domain.Event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)         { *h = append(*h, x.(*domain.Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// worstIndex returns the index of the lowest-ranked element — the
// eviction candidate under admission control. O(n); capacity is
// bounded (default 5000) and eviction only happens at capacity, so
// this stays cheap relative to the heap operations around it.
func (h eventHeap) worstIndex() int {
	worst := 0
	for i := 1; i < len(h); i++ {
		if less(h[worst], h[i]) {
			worst = i
		}
	}
	return worst
}
