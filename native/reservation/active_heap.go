package reservation

import "container/heap"

// activeEntry tracks a confirmed booking for one (lab, user) pair.
type activeEntry struct {
	start int64
	key   [32]byte
}

type activeQueue []activeEntry

func (q activeQueue) Len() int            { return len(q) }
func (q activeQueue) Less(i, j int) bool  { return q[i].start < q[j].start }
func (q activeQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *activeQueue) Push(x interface{}) { *q = append(*q, x.(activeEntry)) }
func (q *activeQueue) Pop() interface{} {
	old := *q
	n := len(old)
	entry := old[n-1]
	*q = old[:n-1]
	return entry
}

// ActiveHeap is a min-heap by start time answering "what is this user's
// next-earliest active booking in this lab". Only root removal is supported:
// cancellation and collection always target the booking that just left the
// active set, and skipped roots are lazily dropped on the next Peek.
type ActiveHeap struct {
	queue activeQueue
}

// NewActiveHeap returns an empty heap.
func NewActiveHeap() *ActiveHeap {
	return &ActiveHeap{}
}

// Len returns the number of tracked bookings.
func (h *ActiveHeap) Len() int { return len(h.queue) }

// Enqueue tracks a booking starting at start.
func (h *ActiveHeap) Enqueue(key [32]byte, start int64) {
	heap.Push(&h.queue, activeEntry{start: start, key: key})
}

// Peek returns the earliest tracked booking without removing it.
func (h *ActiveHeap) Peek() ([32]byte, int64, bool) {
	if len(h.queue) == 0 {
		return [32]byte{}, 0, false
	}
	return h.queue[0].key, h.queue[0].start, true
}

// RemoveRoot drops the earliest tracked booking by swapping the last element
// into its slot and sifting down.
func (h *ActiveHeap) RemoveRoot() ([32]byte, bool) {
	if len(h.queue) == 0 {
		return [32]byte{}, false
	}
	entry := heap.Pop(&h.queue).(activeEntry)
	return entry.key, true
}

// RemoveKey drops the root when it matches key. Non-root removals are not
// supported; callers drain mismatched roots through skip logic instead.
func (h *ActiveHeap) RemoveKey(key [32]byte) bool {
	if len(h.queue) == 0 || h.queue[0].key != key {
		return false
	}
	heap.Pop(&h.queue)
	return true
}
