package reservation

import "testing"

func heapKey(b byte) [32]byte {
	var key [32]byte
	key[0] = b
	return key
}

func TestPayoutSchedulerOrdering(t *testing.T) {
	sched := NewPayoutScheduler()
	sched.Enqueue(heapKey(3), 300)
	sched.Enqueue(heapKey(1), 100)
	sched.Enqueue(heapKey(2), 200)

	var order []byte
	for {
		key, ok := sched.PopEligible(1_000, nil)
		if !ok {
			break
		}
		order = append(order, key[0])
	}
	if string(order) != string([]byte{1, 2, 3}) {
		t.Fatalf("pop order = %v", order)
	}
}

func TestPayoutSchedulerDuplicateEnqueue(t *testing.T) {
	sched := NewPayoutScheduler()
	sched.Enqueue(heapKey(1), 100)
	sched.Enqueue(heapKey(1), 100)
	if sched.Len() != 1 {
		t.Fatalf("len = %d, want 1", sched.Len())
	}
}

func TestPayoutSchedulerNotYetDue(t *testing.T) {
	sched := NewPayoutScheduler()
	sched.Enqueue(heapKey(1), 500)
	if _, ok := sched.PopEligible(499, nil); ok {
		t.Fatalf("entry should not be eligible before its end")
	}
	if _, ok := sched.PopEligible(500, nil); !ok {
		t.Fatalf("entry should be eligible at its end")
	}
}

func TestPayoutSchedulerLazyInvalidation(t *testing.T) {
	sched := NewPayoutScheduler()
	sched.Enqueue(heapKey(1), 100)
	sched.Enqueue(heapKey(2), 200)
	sched.Invalidate(heapKey(1))
	if sched.Stale() != 1 {
		t.Fatalf("stale = %d, want 1", sched.Stale())
	}
	// The stale entry stays in the heap until popped or compacted.
	if sched.Len() != 2 {
		t.Fatalf("len = %d, want 2", sched.Len())
	}
	key, ok := sched.PopEligible(1_000, nil)
	if !ok || key != heapKey(2) {
		t.Fatalf("pop = %v ok=%v, want key 2", key, ok)
	}
}

func TestPayoutSchedulerSkipsInvalidEntries(t *testing.T) {
	sched := NewPayoutScheduler()
	sched.Enqueue(heapKey(1), 100)
	sched.Enqueue(heapKey(2), 200)
	key, ok := sched.PopEligible(1_000, func(key [32]byte) bool {
		return key != heapKey(1)
	})
	if !ok || key != heapKey(2) {
		t.Fatalf("pop = %v ok=%v, want key 2", key, ok)
	}
}

func TestPayoutSchedulerCompaction(t *testing.T) {
	sched := NewPayoutScheduler()
	for i := byte(1); i <= 10; i++ {
		sched.Enqueue(heapKey(i), int64(i)*100)
	}
	for i := byte(1); i <= 5; i++ {
		sched.Invalidate(heapKey(i))
	}
	// 5 of 10 stale exceeds the 1/5 threshold; the next pop compacts first.
	key, ok := sched.PopEligible(10_000, nil)
	if !ok || key != heapKey(6) {
		t.Fatalf("pop = %v ok=%v, want key 6", key, ok)
	}
	if sched.Stale() != 0 {
		t.Fatalf("stale = %d after compaction, want 0", sched.Stale())
	}
	if sched.Len() != 4 {
		t.Fatalf("len = %d after compaction and pop, want 4", sched.Len())
	}
}

func TestActiveHeapNextEarliest(t *testing.T) {
	h := NewActiveHeap()
	h.Enqueue(heapKey(2), 200)
	h.Enqueue(heapKey(1), 100)
	h.Enqueue(heapKey(3), 300)

	key, start, ok := h.Peek()
	if !ok || key != heapKey(1) || start != 100 {
		t.Fatalf("peek = %v/%d ok=%v", key, start, ok)
	}
	if !h.RemoveKey(heapKey(1)) {
		t.Fatalf("root removal should succeed")
	}
	key, start, ok = h.Peek()
	if !ok || key != heapKey(2) || start != 200 {
		t.Fatalf("peek after removal = %v/%d ok=%v", key, start, ok)
	}
	// Non-root removal is unsupported; callers drain through the root.
	if h.RemoveKey(heapKey(3)) {
		t.Fatalf("non-root removal must be refused")
	}
}

func TestActiveHeapRemoveRoot(t *testing.T) {
	h := NewActiveHeap()
	if _, ok := h.RemoveRoot(); ok {
		t.Fatalf("empty heap has no root")
	}
	h.Enqueue(heapKey(1), 100)
	key, ok := h.RemoveRoot()
	if !ok || key != heapKey(1) {
		t.Fatalf("remove root = %v ok=%v", key, ok)
	}
	if h.Len() != 0 {
		t.Fatalf("len = %d, want 0", h.Len())
	}
}
