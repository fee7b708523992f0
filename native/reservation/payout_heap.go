package reservation

import "container/heap"

const (
	// compactionStaleDenominator triggers in-place compaction once more than
	// 1/5 of the heap is known stale.
	compactionStaleDenominator = 5
	// compactionCeiling skips compaction for oversized heaps so a single call
	// stays bounded.
	compactionCeiling = 1024
)

// payoutEntry schedules a reservation for revenue collection once its window
// elapses.
type payoutEntry struct {
	end int64
	key [32]byte
}

type payoutQueue []payoutEntry

func (q payoutQueue) Len() int            { return len(q) }
func (q payoutQueue) Less(i, j int) bool  { return q[i].end < q[j].end }
func (q payoutQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *payoutQueue) Push(x interface{}) { *q = append(*q, x.(payoutEntry)) }
func (q *payoutQueue) Pop() interface{} {
	old := *q
	n := len(old)
	entry := old[n-1]
	*q = old[:n-1]
	return entry
}

// PayoutScheduler is a per-lab min-heap ordered by booking end time with lazy
// invalidation: cancellation and collection flip an existence flag instead of
// searching the heap, and PopEligible compacts once stale entries pile up.
type PayoutScheduler struct {
	queue   payoutQueue
	present map[[32]byte]bool
	stale   int
}

// NewPayoutScheduler returns an empty scheduler.
func NewPayoutScheduler() *PayoutScheduler {
	return &PayoutScheduler{present: make(map[[32]byte]bool)}
}

// Len returns the number of heap entries, stale ones included.
func (s *PayoutScheduler) Len() int { return len(s.queue) }

// Stale returns the count of known-invalidated entries still in the heap.
func (s *PayoutScheduler) Stale() int { return s.stale }

// Enqueue schedules the reservation for collection at end. Re-enqueueing a
// present key is a no-op.
func (s *PayoutScheduler) Enqueue(key [32]byte, end int64) {
	if s.present[key] {
		return
	}
	s.present[key] = true
	heap.Push(&s.queue, payoutEntry{end: end, key: key})
}

// Invalidate marks the reservation's heap entry stale without removing it.
// Unknown keys are ignored.
func (s *PayoutScheduler) Invalidate(key [32]byte) {
	if !s.present[key] {
		return
	}
	delete(s.present, key)
	s.stale++
}

// PopEligible returns the key of the earliest-ending reservation whose window
// elapsed at or before now and which still passes the valid check. Stale and
// invalid entries encountered on the way are discarded. The second return is
// false when no eligible entry remains.
func (s *PayoutScheduler) PopEligible(now int64, valid func(key [32]byte) bool) ([32]byte, bool) {
	s.maybeCompact()
	for len(s.queue) > 0 {
		if s.queue[0].end > now {
			break
		}
		entry := heap.Pop(&s.queue).(payoutEntry)
		if !s.present[entry.key] {
			if s.stale > 0 {
				s.stale--
			}
			continue
		}
		delete(s.present, entry.key)
		if valid == nil || valid(entry.key) {
			return entry.key, true
		}
	}
	return [32]byte{}, false
}

func (s *PayoutScheduler) maybeCompact() {
	if len(s.queue) >= compactionCeiling {
		return
	}
	if s.stale*compactionStaleDenominator <= len(s.queue) {
		return
	}
	compacted := s.queue[:0]
	for _, entry := range s.queue {
		if s.present[entry.key] {
			compacted = append(compacted, entry)
		}
	}
	s.queue = compacted
	s.stale = 0
	heap.Init(&s.queue)
}
