package fn

import (
	"context"
	"sync"
)

// ParEach calls f for every index in [0, n) with at most workers calls in
// flight. Once ctx is done no further calls are started; ParEach waits for
// the running ones and returns the indices that were never started, in
// ascending order.
func ParEach(ctx context.Context, n, workers int, f func(ctx context.Context, i int)) []int {
	if workers <= 0 {
		workers = n
	}
	if n == 0 {
		return nil
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	next := 0

dispatch:
	for ; next < n; next++ {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}
		// A slot and cancellation can be ready together; cancellation wins.
		if ctx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)
		go func(i int) {
			defer func() { <-sem; wg.Done() }()
			f(ctx, i)
		}(next)
	}
	wg.Wait()

	var skipped []int
	for i := next; i < n; i++ {
		skipped = append(skipped, i)
	}
	return skipped
}
