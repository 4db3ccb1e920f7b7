package cpu

import "sync"

// minParallelPatterns is the pattern count below which the worker fan-out
// costs more than it saves.
const minParallelPatterns = 64

// parallelFor splits [0, n) across the engine's worker budget and runs fn
// on each chunk. The caller-visible single-threading contract is preserved:
// the call blocks until every worker returns.
func (e *Engine[F]) parallelFor(n int, fn func(start, end int)) {
	workers := e.threads
	if workers <= 1 || n < minParallelPatterns {
		fn(0, n)
		return
	}
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= n {
			break
		}
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, t int) {
			defer wg.Done()
			fn(s, t)
		}(start, end)
	}
	wg.Wait()
}
