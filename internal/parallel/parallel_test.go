package parallel

import (
	"sync/atomic"
	"testing"
)

func TestRowsCoversRangeExactlyOnce(t *testing.T) {
	seen := make([]int32, 1000)
	Rows(len(seen), func(i int) { atomic.AddInt32(&seen[i], 1) })
	for i, c := range seen {
		if c != 1 {
			t.Fatalf("index %d visited %d times, want exactly once", i, c)
		}
	}
}

func TestRowsSmallRangeStaysSequential(t *testing.T) {
	// Below the span threshold the calling goroutine runs the loop
	// itself, in order, so unsynchronized f is fine.
	var order []int
	Rows(4, func(i int) { order = append(order, i) })
	for i, v := range order {
		if v != i {
			t.Fatalf("small range executed out of order: %v", order)
		}
	}
}

func TestRowsZeroAndOne(t *testing.T) {
	Rows(0, func(int) { t.Fatal("f called for empty range") })
	calls := 0
	Rows(1, func(i int) { calls++ })
	if calls != 1 {
		t.Fatalf("single row visited %d times", calls)
	}
}
