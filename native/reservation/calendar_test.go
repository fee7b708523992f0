package reservation

import (
	"errors"
	"math/rand"
	"testing"
)

func TestCalendarOverlapScenario(t *testing.T) {
	cal := NewCalendar()
	if err := cal.Insert(100, 200); err != nil {
		t.Fatalf("insert [100,200): %v", err)
	}
	if err := cal.Insert(150, 250); !errors.Is(err, ErrOverlap) {
		t.Fatalf("expected overlap error, got %v", err)
	}
	if !cal.HasConflict(100, 200) {
		t.Fatalf("existing key should conflict")
	}
	if cal.HasConflict(200, 300) {
		t.Fatalf("adjacent interval should not conflict")
	}
	if err := cal.Insert(200, 300); err != nil {
		t.Fatalf("adjacent insert: %v", err)
	}
}

func TestCalendarInsertRemoveRoundTrip(t *testing.T) {
	cal := NewCalendar()
	if err := cal.Insert(100, 200); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !cal.Exists(100) {
		t.Fatalf("interval should exist after insert")
	}
	if err := cal.Remove(100); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if cal.Exists(100) {
		t.Fatalf("interval should be gone after remove")
	}
	if err := cal.Remove(100); !errors.Is(err, ErrIntervalNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := cal.Insert(100, 200); err != nil {
		t.Fatalf("re-insert after remove: %v", err)
	}
}

func TestCalendarDuplicateStart(t *testing.T) {
	cal := NewCalendar()
	if err := cal.Insert(100, 150); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := cal.Insert(100, 120); !errors.Is(err, ErrOverlap) {
		t.Fatalf("duplicate start must conflict, got %v", err)
	}
}

func TestCalendarTraversal(t *testing.T) {
	cal := NewCalendar()
	for _, iv := range [][2]int64{{300, 400}, {100, 200}, {500, 600}, {200, 300}} {
		if err := cal.Insert(iv[0], iv[1]); err != nil {
			t.Fatalf("insert [%d,%d): %v", iv[0], iv[1], err)
		}
	}
	first, ok := cal.First()
	if !ok || first.Start != 100 {
		t.Fatalf("first = %+v, ok=%v", first, ok)
	}
	last, ok := cal.Last()
	if !ok || last.Start != 500 {
		t.Fatalf("last = %+v, ok=%v", last, ok)
	}
	next, ok := cal.Next(200)
	if !ok || next.Start != 300 {
		t.Fatalf("next(200) = %+v, ok=%v", next, ok)
	}
	prev, ok := cal.Prev(300)
	if !ok || prev.Start != 200 {
		t.Fatalf("prev(300) = %+v, ok=%v", prev, ok)
	}
	if _, ok := cal.Prev(100); ok {
		t.Fatalf("prev of first should not exist")
	}
	if _, ok := cal.Next(500); ok {
		t.Fatalf("next of last should not exist")
	}
}

func TestCalendarRandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cal := NewCalendar()
	inserted := make(map[int64]int64)

	for i := 0; i < 2000; i++ {
		if rng.Intn(3) != 0 || len(inserted) == 0 {
			start := int64(rng.Intn(10_000)) * 10
			end := start + int64(rng.Intn(3)+1)*10
			err := cal.Insert(start, end)
			conflict := false
			for s, e := range inserted {
				if start < e && s < end {
					conflict = true
					break
				}
			}
			if conflict && !errors.Is(err, ErrOverlap) {
				t.Fatalf("iteration %d: expected overlap for [%d,%d)", i, start, end)
			}
			if !conflict {
				if err != nil {
					t.Fatalf("iteration %d: unexpected error for [%d,%d): %v", i, start, end, err)
				}
				inserted[start] = end
			}
		} else {
			var victim int64
			for s := range inserted {
				victim = s
				break
			}
			if err := cal.Remove(victim); err != nil {
				t.Fatalf("iteration %d: remove %d: %v", i, victim, err)
			}
			delete(inserted, victim)
		}
		checkRedBlackInvariants(t, cal)
		checkOrdering(t, cal, len(inserted))
	}
}

// checkOrdering verifies the in-order walk yields strictly increasing,
// non-overlapping intervals.
func checkOrdering(t *testing.T, cal *Calendar, want int) {
	t.Helper()
	var prev Interval
	seen := 0
	cal.Ascend(func(iv Interval) bool {
		if seen > 0 {
			if iv.Start < prev.End {
				t.Fatalf("overlapping traversal: [%d,%d) then [%d,%d)", prev.Start, prev.End, iv.Start, iv.End)
			}
		}
		prev = iv
		seen++
		return true
	})
	if seen != want || cal.Len() != want {
		t.Fatalf("traversal saw %d intervals, Len()=%d, want %d", seen, cal.Len(), want)
	}
}

// checkRedBlackInvariants verifies a black root, no red node with a red
// child, and equal black-height on every root-to-leaf path.
func checkRedBlackInvariants(t *testing.T, cal *Calendar) {
	t.Helper()
	if cal.root.color != calBlack {
		t.Fatalf("root must be black")
	}
	if cal.root != cal.sentinel && cal.root.parent != cal.sentinel {
		t.Fatalf("root must have no parent")
	}
	var walk func(n *calNode) int
	walk = func(n *calNode) int {
		if n == cal.sentinel {
			return 1
		}
		if n.color == calRed {
			if n.left.color == calRed || n.right.color == calRed {
				t.Fatalf("red node %d has red child", n.start)
			}
		}
		leftHeight := walk(n.left)
		rightHeight := walk(n.right)
		if leftHeight != rightHeight {
			t.Fatalf("black-height mismatch at %d: %d vs %d", n.start, leftHeight, rightHeight)
		}
		if n.color == calBlack {
			return leftHeight + 1
		}
		return leftHeight
	}
	walk(cal.root)
}
