// Package parallel fans the row loops of the CPU tensor kernels out
// across goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// minRows is the row count below which fanning out costs more than
// the loop itself.
const minRows = 64

var workers = runtime.NumCPU()

// Rows executes f(i) for every i in [0, n). Small ranges run on the
// calling goroutine; larger ones are split into contiguous spans, one
// goroutine per span. f must be safe to call concurrently for
// distinct i.
func Rows(n int, f func(i int)) {
	if n < minRows || workers < 2 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	span := (n + workers - 1) / workers
	if span < minRows {
		span = minRows
	}
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += span {
		hi := min(lo+span, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				f(i)
			}
		}(lo, hi)
	}
	wg.Wait()
}
