package ingest

import (
	"errors"
	"time"

	"github.com/samber/lo"
)

// Job names one ingestion entry point.
type Job string

const (
	// JobMergeEvents fetches merge events for tracked organizations.
	JobMergeEvents Job = "merge_events"
	// JobMetrics refreshes metrics snapshots and appends observations.
	JobMetrics Job = "metrics"
)

// Status is the terminal state of one organization within a run.
type Status string

const (
	// StatusDone means the organization was fetched and persisted.
	StatusDone Status = "done"
	// StatusSkipped means the fetch timed out, failed, or returned no data.
	StatusSkipped Status = "skipped"
	// StatusFailed means persistence failed after the fetch succeeded.
	StatusFailed Status = "failed"
)

// Skip and failure reasons reported on outcomes.
const (
	ReasonTimeout     = "timeout"
	ReasonNoData      = "no_data"
	ReasonFetchError  = "fetch_error"
	ReasonInterrupted = "interrupted"
	ReasonPersist     = "persist_error"
	ReasonRetries     = "retries_exhausted"
)

var (
	// ErrNoData is returned by a source when an organization yields nothing to store.
	ErrNoData = errors.New("no data returned")
	// ErrRunInProgress is returned when another run of the same job holds the run lock.
	ErrRunInProgress = errors.New("run already in progress")
)

// Outcome is the typed result for one organization.
type Outcome struct {
	OrgID          int64
	Handle         string
	Name           string
	Status         Status
	Reason         string
	Rows           int
	Attempts       int
	RateLimitWaits int
	Err            error
}

// Report aggregates the outcomes of one run.
type Report struct {
	Job                  Job
	StartedAt            time.Time
	FinishedAt           time.Time
	Outcomes             []Outcome
	RowsWritten          int
	SkippedWithoutHandle int
	Duplicates           int
	// Interrupted is set when the run context ended before every organization was processed.
	Interrupted bool
}

// Done counts organizations that were persisted.
func (r Report) Done() int {
	return r.count(StatusDone)
}

// Skipped counts organizations whose fetch was abandoned.
func (r Report) Skipped() int {
	return r.count(StatusSkipped)
}

// Failed counts organizations whose persistence failed.
func (r Report) Failed() int {
	return r.count(StatusFailed)
}

// Duration is the wall-clock time of the run.
func (r Report) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r Report) count(status Status) int {
	return lo.CountBy(r.Outcomes, func(outcome Outcome) bool {
		return outcome.Status == status
	})
}
