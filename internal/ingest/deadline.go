package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrFetchTimeout is returned when a fetch exceeds its wall-clock budget.
var ErrFetchTimeout = errors.New("fetch timed out")

// runWithDeadline runs fn on a single worker goroutine and waits for it, the
// budget timer, or the parent context, whichever comes first. The worker's
// context is canceled when runWithDeadline returns.
func runWithDeadline[T any](
	ctx context.Context,
	budget time.Duration,
	after func(time.Duration) <-chan time.Time,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	if budget <= 0 {
		return fn(ctx)
	}
	if after == nil {
		after = time.After
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(workerCtx)
		done <- result{value: value, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.value, r.err
	case <-after(budget):
		return zero, fmt.Errorf("%w after %s", ErrFetchTimeout, budget)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
