package storage

import (
	"database/sql"
	"time"
)

// Snapshot is the current metrics row for one organization in github_metrics.
type Snapshot struct {
	ID             int64     `db:"id"`
	Name           string    `db:"name"`
	Slug           string    `db:"slug"`
	Followers      int       `db:"github_followers"`
	Repos          int       `db:"github_repos"`
	Bio            string    `db:"github_bio"`
	FetchedAt      time.Time `db:"fetched_at"`
	PullRequests   int       `db:"pull_requests"`
	MergedPRs      int       `db:"merged_prs"`
	MergeFrequency float64   `db:"merge_frequency"`
}

// Observation is one append-only point in historical_metrics.
type Observation struct {
	ID             int64     `db:"id"`
	Slug           string    `db:"organization_slug"`
	Name           string    `db:"organization_name"`
	MergeFrequency float64   `db:"merge_frequency"`
	TotalPRs       int       `db:"total_prs"`
	MergedPRs      int       `db:"merged_prs"`
	RecordedAt     time.Time `db:"recorded_at"`
}

// MergeEvent is one merged pull request in merge_dates. The natural key is
// (Slug, MergeDate, PullRequestNumber, Repository).
type MergeEvent struct {
	ID                int64     `db:"id"`
	Slug              string    `db:"organization_slug"`
	Name              string    `db:"organization_name"`
	MergeDate         time.Time `db:"merge_date"`
	MergedAt          time.Time `db:"merged_at"`
	Repository        string    `db:"repository_name"`
	PullRequestNumber int       `db:"pull_request_number"`
	CreatedAt         time.Time `db:"created_at"`
}

// MergeDay is one row of organization_merge_dates.
type MergeDay struct {
	ID           int64        `db:"id"`
	Slug         string       `db:"organization_slug"`
	Name         string       `db:"organization_name"`
	MergeDate    time.Time    `db:"merge_date"`
	MergedAt     time.Time    `db:"merged_at"`
	MergesPerDay int          `db:"merges_per_day"`
	FetchedAt    sql.NullTime `db:"fetched_at"`
	CreatedAt    time.Time    `db:"created_at"`
}

// MergeDateOf truncates a merge timestamp to its UTC calendar day.
func MergeDateOf(mergedAt time.Time) time.Time {
	utc := mergedAt.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
