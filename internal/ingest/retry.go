package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cam3ron2/org-merge-stats/internal/githubapi"
	"github.com/cam3ron2/org-merge-stats/internal/storage"
)

// ErrRetriesExhausted wraps the last error once every attempt failed transiently.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy retries an operation a bounded number of times with a fixed pause.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Retryable classifies errors worth another attempt. Defaults to storage.IsTransient.
	Retryable func(error) bool
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each pause.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy is three attempts with a five second pause.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 5 * time.Second}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = storage.IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = githubapi.SleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return attempt, nil
		}
		if !retryable(err) {
			return attempt, err
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if sleepErr := sleep(ctx, p.Backoff); sleepErr != nil {
			return attempt, errors.Join(err, sleepErr)
		}
	}
	return attempts, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
}
