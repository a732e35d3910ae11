package ingest

import (
	"context"
	"errors"
	"testing"
	"time"
)

func never(time.Duration) <-chan time.Time { return nil }

func TestRunWithDeadlineReturnsResult(t *testing.T) {
	t.Parallel()

	got, err := runWithDeadline(context.Background(), time.Minute, never, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("runWithDeadline() unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("runWithDeadline() = %d, want 42", got)
	}
}

func TestRunWithDeadlinePropagatesError(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	_, err := runWithDeadline(context.Background(), time.Minute, never, func(context.Context) (int, error) {
		return 0, errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("runWithDeadline() error = %v, want %v", err, errBoom)
	}
}

func TestRunWithDeadlineTimesOutAndCancelsWorker(t *testing.T) {
	t.Parallel()

	var gotBudget time.Duration
	fired := make(chan time.Time, 1)
	fired <- time.Now().Add(601 * time.Second)
	after := func(d time.Duration) <-chan time.Time {
		gotBudget = d
		return fired
	}

	canceled := make(chan struct{})
	_, err := runWithDeadline(context.Background(), 600*time.Second, after, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		close(canceled)
		return "late", ctx.Err()
	})
	if !errors.Is(err, ErrFetchTimeout) {
		t.Fatalf("runWithDeadline() error = %v, want ErrFetchTimeout", err)
	}
	if gotBudget != 600*time.Second {
		t.Fatalf("budget = %s, want 600s", gotBudget)
	}

	select {
	case <-canceled:
	case <-time.After(5 * time.Second):
		t.Fatalf("worker context was not canceled")
	}
}

func TestRunWithDeadlineParentCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runWithDeadline(ctx, time.Minute, never, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("runWithDeadline() error = %v, want context.Canceled", err)
	}
}

func TestRunWithDeadlineWithoutBudgetRunsInline(t *testing.T) {
	t.Parallel()

	called := false
	after := func(time.Duration) <-chan time.Time {
		t.Fatalf("after should not be called without a budget")
		return nil
	}
	_, err := runWithDeadline(context.Background(), 0, after, func(context.Context) (bool, error) {
		called = true
		return true, nil
	})
	if err != nil || !called {
		t.Fatalf("runWithDeadline() called = %t err = %v, want true and nil", called, err)
	}
}
