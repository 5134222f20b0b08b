package pipeline

import (
	"context"
	"sync"
)

// runPool calls fn once for every index in [0, n) using at most workers
// goroutines. fn owns its own error handling; the pool only waits.
func runPool(ctx context.Context, workers, n int, fn func(ctx context.Context, workerID, i int)) {
	if n == 0 {
		return
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	jobChan := make(chan int)
	var wg sync.WaitGroup

	// Start workers
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range jobChan {
				fn(ctx, workerID, i)
			}
		}(w)
	}

	// Every job is handed out even after ctx is cancelled so each one is
	// attempted and reported exactly once.
	for i := 0; i < n; i++ {
		jobChan <- i
	}
	close(jobChan)

	wg.Wait()
}
