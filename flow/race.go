package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/taskgridgo/task"
)

// Race runs all works concurrently and returns the result of the first one
// to succeed. The contexts of the remaining works are cancelled immediately
// upon the first success; completion is signalled through a channel rather
// than polled.
//
// If all works fail, Race returns the last error observed. If ctx is
// cancelled before any work succeeds, Race returns ctx.Err(). An empty
// works list returns (nil, nil).
func Race(ctx context.Context, works ...task.Work) (any, error) {
	if len(works) == 0 {
		return nil, nil
	}
	for i, work := range works {
		if work == nil {
			panic(fmt.Sprintf("flow: Race work[%d] must not be nil", i))
		}
	}

	raceCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	type outcome struct {
		value any
		err   error
	}

	// Buffered so every goroutine can send without blocking after the
	// first success has been picked up.
	ch := make(chan outcome, len(works))

	var wg sync.WaitGroup
	wg.Add(len(works))
	for _, work := range works {
		go func(work task.Work) {
			defer wg.Done()
			value, err := work(raceCtx)
			ch <- outcome{value: value, err: err}
		}(work)
	}

	// Close ch once all goroutines are done so the drain loop terminates.
	go func() {
		wg.Wait()
		close(ch)
	}()

	var lastErr error
	for out := range ch {
		if out.err == nil {
			cancel(nil)
			return out.value, nil
		}
		lastErr = out.err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, lastErr
}
