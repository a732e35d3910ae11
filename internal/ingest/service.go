// Package ingest drives organization metrics and merge event ingestion.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cam3ron2/org-merge-stats/internal/orgid"
	"github.com/cam3ron2/org-merge-stats/internal/storage"
	"go.uber.org/zap"
)

// Source gathers data for one organization.
type Source interface {
	CollectMergeEvents(ctx context.Context, org orgid.Organization, days int) (MergeCollection, error)
	FetchOrgMetrics(ctx context.Context, org orgid.Organization) (OrgMetrics, error)
}

// Store persists ingestion results.
type Store interface {
	ListOrganizationRecords(ctx context.Context, startFromID *int64) ([]orgid.Record, error)
	ListTrackedOrganizations(ctx context.Context, startFromID *int64) ([]orgid.Organization, error)
	SaveMetrics(ctx context.Context, snapshot storage.Snapshot, observation storage.Observation) error
	SaveMergeEvents(ctx context.Context, events []storage.MergeEvent) (int, error)
}

// Checkpointer persists run locks and resume cursors.
type Checkpointer interface {
	AcquireRunLock(job string, ttl time.Duration, now time.Time) bool
	ReleaseRunLock(job string) error
	SetCursor(job string, orgID int64) error
	Cursor(job string) (int64, bool, error)
	ClearCursor(job string) error
}

// Recorder observes per-organization outcomes.
type Recorder interface {
	ObserveOutcome(job Job, outcome Outcome)
}

// ServiceConfig configures Service.
type ServiceConfig struct {
	// OrgTimeout is the wall-clock budget for fetching one organization.
	OrgTimeout time.Duration
	Persist    RetryPolicy
	// LockTTL bounds how long a crashed run keeps the run lock.
	LockTTL     time.Duration
	Checkpoints Checkpointer
	Recorder    Recorder
	Now         func() time.Time
	After       func(time.Duration) <-chan time.Time
}

// RunOptions selects which organizations a run covers.
type RunOptions struct {
	StartFromID *int64
	// Resume starts after the last organization recorded by an interrupted run.
	Resume bool
}

// Service runs the ingestion jobs one organization at a time.
type Service struct {
	source Source
	store  Store
	cfg    ServiceConfig
	logger *zap.Logger
}

// NewService creates an ingestion service.
func NewService(source Source, store Store, cfg ServiceConfig, logger ...*zap.Logger) *Service {
	if cfg.OrgTimeout < 0 {
		cfg.OrgTimeout = 0
	}
	if cfg.Persist.MaxAttempts <= 0 {
		cfg.Persist.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 12 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.After == nil {
		cfg.After = time.After
	}

	log := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		log = logger[0]
	}

	return &Service{
		source: source,
		store:  store,
		cfg:    cfg,
		logger: log,
	}
}

// RefreshMetrics fetches metrics for every seed organization and stores a
// snapshot plus one historical observation per successful organization.
// Per-organization failures are reported in the Report, never returned.
func (s *Service) RefreshMetrics(ctx context.Context, opts RunOptions) (Report, error) {
	return s.run(ctx, JobMetrics, opts, func(ctx context.Context, report *Report, start *int64) ([]orgid.Organization, error) {
		records, err := s.store.ListOrganizationRecords(ctx, start)
		if err != nil {
			return nil, fmt.Errorf("load organizations: %w", err)
		}
		batch := orgid.Normalize(records, start)
		report.SkippedWithoutHandle = batch.SkippedWithoutHandle
		report.Duplicates = batch.Duplicates
		return batch.Organizations, nil
	}, s.refreshOrg)
}

// FetchMergeEvents stores the merge events of the last days for every tracked
// organization. Events already stored under the same natural key are skipped.
func (s *Service) FetchMergeEvents(ctx context.Context, days int, opts RunOptions) (Report, error) {
	if days <= 0 {
		return Report{Job: JobMergeEvents}, fmt.Errorf("lookback days must be > 0")
	}
	return s.run(ctx, JobMergeEvents, opts, func(ctx context.Context, _ *Report, start *int64) ([]orgid.Organization, error) {
		orgs, err := s.store.ListTrackedOrganizations(ctx, start)
		if err != nil {
			return nil, fmt.Errorf("load tracked organizations: %w", err)
		}
		return orgs, nil
	}, func(ctx context.Context, org orgid.Organization) Outcome {
		return s.fetchOrgMerges(ctx, org, days)
	})
}

type loadFunc func(ctx context.Context, report *Report, start *int64) ([]orgid.Organization, error)

type orgFunc func(ctx context.Context, org orgid.Organization) Outcome

func (s *Service) run(ctx context.Context, job Job, opts RunOptions, load loadFunc, process orgFunc) (Report, error) {
	report := Report{Job: job, StartedAt: s.cfg.Now().UTC()}
	log := s.logger.With(zap.String("job", string(job)))

	if s.cfg.Checkpoints != nil {
		if !s.cfg.Checkpoints.AcquireRunLock(string(job), s.cfg.LockTTL, s.cfg.Now()) {
			return report, ErrRunInProgress
		}
		defer func() {
			if err := s.cfg.Checkpoints.ReleaseRunLock(string(job)); err != nil {
				log.Warn("failed to release run lock", zap.Error(err))
			}
		}()
	}

	start := s.startFrom(job, opts, log)
	orgs, err := load(ctx, &report, start)
	if err != nil {
		report.FinishedAt = s.cfg.Now().UTC()
		return report, err
	}
	log.Info("starting run", zap.Int("organizations", len(orgs)), zap.Int64p("start_from_id", start))

	for _, org := range orgs {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}

		outcome := process(ctx, org)
		if outcome.Reason == ReasonInterrupted {
			report.Interrupted = true
			report.Outcomes = append(report.Outcomes, outcome)
			break
		}
		report.Outcomes = append(report.Outcomes, outcome)
		report.RowsWritten += outcome.Rows
		s.logOutcome(log, outcome)
		if s.cfg.Recorder != nil {
			s.cfg.Recorder.ObserveOutcome(job, outcome)
		}
		if s.cfg.Checkpoints != nil {
			if err := s.cfg.Checkpoints.SetCursor(string(job), org.ID); err != nil {
				log.Warn("failed to save cursor", zap.Int64("org_id", org.ID), zap.Error(err))
			}
		}
	}

	report.FinishedAt = s.cfg.Now().UTC()
	log.Info("run finished",
		zap.Int("done", report.Done()),
		zap.Int("skipped", report.Skipped()),
		zap.Int("failed", report.Failed()),
		zap.Int("rows_written", report.RowsWritten),
		zap.Int("skipped_without_handle", report.SkippedWithoutHandle),
		zap.Int("duplicates", report.Duplicates),
		zap.Duration("duration", report.Duration()),
	)

	if report.Interrupted {
		return report, ctx.Err()
	}
	if s.cfg.Checkpoints != nil {
		if err := s.cfg.Checkpoints.ClearCursor(string(job)); err != nil {
			log.Warn("failed to clear cursor", zap.Error(err))
		}
	}
	return report, nil
}

func (s *Service) startFrom(job Job, opts RunOptions, log *zap.Logger) *int64 {
	start := opts.StartFromID
	if !opts.Resume || s.cfg.Checkpoints == nil {
		return start
	}

	cursor, ok, err := s.cfg.Checkpoints.Cursor(string(job))
	if err != nil {
		log.Warn("failed to read cursor; starting from the beginning", zap.Error(err))
		return start
	}
	if !ok {
		return start
	}
	next := cursor + 1
	if start != nil && *start > next {
		return start
	}
	log.Info("resuming run", zap.Int64("after_org_id", cursor))
	return &next
}

func (s *Service) refreshOrg(ctx context.Context, org orgid.Organization) Outcome {
	outcome := Outcome{OrgID: org.ID, Handle: org.Handle, Name: org.DisplayName}

	metrics, err := runWithDeadline(ctx, s.cfg.OrgTimeout, s.cfg.After, func(ctx context.Context) (OrgMetrics, error) {
		return s.source.FetchOrgMetrics(ctx, org)
	})
	if err != nil {
		return skipOutcome(ctx, outcome, err)
	}
	outcome.RateLimitWaits = metrics.RateLimitWaits

	fetchedAt := metrics.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.cfg.Now().UTC()
	}
	snapshot := storage.Snapshot{
		Name:           org.DisplayName,
		Slug:           org.Handle,
		Followers:      metrics.Followers,
		Repos:          metrics.PublicRepos,
		Bio:            metrics.Bio,
		FetchedAt:      fetchedAt,
		PullRequests:   metrics.TotalPRs,
		MergedPRs:      metrics.MergedPRs,
		MergeFrequency: metrics.MergeFrequency,
	}

	attempts, err := s.persist(ctx, org, func(ctx context.Context) error {
		observation := storage.Observation{
			Slug:           org.Handle,
			Name:           org.DisplayName,
			MergeFrequency: metrics.MergeFrequency,
			TotalPRs:       metrics.TotalPRs,
			MergedPRs:      metrics.MergedPRs,
			RecordedAt:     s.cfg.Now().UTC(),
		}
		return s.store.SaveMetrics(ctx, snapshot, observation)
	})
	outcome.Attempts = attempts
	if err != nil {
		return failOutcome(ctx, outcome, err)
	}

	outcome.Status = StatusDone
	outcome.Rows = 2
	return outcome
}

func (s *Service) fetchOrgMerges(ctx context.Context, org orgid.Organization, days int) Outcome {
	outcome := Outcome{OrgID: org.ID, Handle: org.Handle, Name: org.DisplayName}

	collection, err := runWithDeadline(ctx, s.cfg.OrgTimeout, s.cfg.After, func(ctx context.Context) (MergeCollection, error) {
		return s.source.CollectMergeEvents(ctx, org, days)
	})
	if err != nil {
		return skipOutcome(ctx, outcome, err)
	}
	outcome.RateLimitWaits = collection.RateLimitWaits
	if len(collection.Events) == 0 {
		outcome.Status = StatusDone
		return outcome
	}

	inserted := 0
	attempts, err := s.persist(ctx, org, func(ctx context.Context) error {
		n, err := s.store.SaveMergeEvents(ctx, collection.Events)
		if err != nil {
			return err
		}
		inserted = n
		return nil
	})
	outcome.Attempts = attempts
	if err != nil {
		return failOutcome(ctx, outcome, err)
	}

	outcome.Status = StatusDone
	outcome.Rows = inserted
	return outcome
}

func (s *Service) persist(ctx context.Context, org orgid.Organization, op func(ctx context.Context) error) (int, error) {
	policy := s.cfg.Persist
	policy.OnRetry = func(attempt int, err error) {
		s.logger.Warn("storage unavailable; retrying",
			zap.Int64("org_id", org.ID),
			zap.String("handle", org.Handle),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", policy.Backoff),
			zap.Error(err),
		)
	}
	return policy.Do(ctx, op)
}

func skipOutcome(ctx context.Context, outcome Outcome, err error) Outcome {
	outcome.Status = StatusSkipped
	outcome.Err = err
	switch {
	case ctx.Err() != nil:
		outcome.Reason = ReasonInterrupted
	case errors.Is(err, ErrFetchTimeout):
		outcome.Reason = ReasonTimeout
	case errors.Is(err, ErrNoData):
		outcome.Reason = ReasonNoData
	default:
		outcome.Reason = ReasonFetchError
	}
	return outcome
}

func failOutcome(ctx context.Context, outcome Outcome, err error) Outcome {
	outcome.Status = StatusFailed
	outcome.Err = err
	switch {
	case ctx.Err() != nil:
		outcome.Reason = ReasonInterrupted
	case errors.Is(err, ErrRetriesExhausted):
		outcome.Reason = ReasonRetries
	default:
		outcome.Reason = ReasonPersist
	}
	return outcome
}

func (s *Service) logOutcome(log *zap.Logger, outcome Outcome) {
	fields := []zap.Field{
		zap.Int64("org_id", outcome.OrgID),
		zap.String("handle", outcome.Handle),
		zap.String("org", outcome.Name),
		zap.String("status", string(outcome.Status)),
		zap.Int("rows", outcome.Rows),
	}
	switch outcome.Status {
	case StatusDone:
		log.Info("organization processed", fields...)
	case StatusSkipped:
		log.Warn("organization skipped", append(fields, zap.String("reason", outcome.Reason), zap.Error(outcome.Err))...)
	default:
		log.Error("organization failed", append(fields,
			zap.String("reason", outcome.Reason),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(outcome.Err),
		)...)
	}
}
