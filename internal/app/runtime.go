// Package app wires ingestion, scheduling, and the HTTP surface of the serve command.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cam3ron2/org-merge-stats/internal/health"
	"github.com/cam3ron2/org-merge-stats/internal/ingest"
	"github.com/cam3ron2/org-merge-stats/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const dependencyPingTimeout = 2 * time.Second

// Ingestor runs the two ingestion jobs.
type Ingestor interface {
	FetchMergeEvents(ctx context.Context, days int, opts ingest.RunOptions) (ingest.Report, error)
	RefreshMetrics(ctx context.Context, opts ingest.RunOptions) (ingest.Report, error)
}

// Rollup rebuilds the per-day merge aggregate.
type Rollup interface {
	RebuildOrganizationMergeDates(ctx context.Context, since time.Time) (int, error)
}

// Pinger checks a dependency's reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// PingContext calls f.
func (f PingFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

// CycleObserver records cycle metrics.
type CycleObserver interface {
	ObserveCycle(duration time.Duration, finishedAt time.Time, err error)
}

// Dependencies are the collaborators of a Runtime.
type Dependencies struct {
	Ingestor    Ingestor
	Rollup      Rollup
	Database    Pinger
	Checkpoints Pinger
	Metrics     CycleObserver
}

// RuntimeConfig configures the ingestion cycle.
type RuntimeConfig struct {
	LookbackDays int
	StartFromID  *int64
}

// CycleResult summarizes one ingestion cycle.
type CycleResult struct {
	Merges     ingest.Report
	Metrics    ingest.Report
	RollupRows int
	StartedAt  time.Time
	FinishedAt time.Time
}

// FailedOrgs returns the number of failed organization outcomes across both jobs.
func (c CycleResult) FailedOrgs() int {
	return c.Merges.Failed() + c.Metrics.Failed()
}

// RowsWritten returns rows written by both jobs and the rollup.
func (c CycleResult) RowsWritten() int {
	return c.Merges.RowsWritten + c.Metrics.RowsWritten + c.RollupRows
}

// Runtime is the application runtime orchestrator.
type Runtime struct {
	deps      Dependencies
	cfg       RuntimeConfig
	evaluator *health.StatusEvaluator
	logger    *zap.Logger

	mu               sync.RWMutex
	schedulerRunning bool
	lastCycle        health.CycleSummary

	// Now is injected for deterministic tests.
	Now func() time.Time
}

// NewRuntime creates a runtime instance.
func NewRuntime(deps Dependencies, cfg RuntimeConfig, logger ...*zap.Logger) *Runtime {
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 30
	}

	return &Runtime{
		deps:      deps,
		cfg:       cfg,
		evaluator: health.NewStatusEvaluator(),
		logger:    baseLogger,
		Now:       time.Now,
	}
}

// Handler returns the combined HTTP handler.
func (r *Runtime) Handler(metricsHandler http.Handler) http.Handler {
	tracer := otel.Tracer(telemetry.DefaultServiceName + "/internal/app")
	return newRouter(metricsHandler, health.NewHandler(r), telemetry.TraceMode(), tracer)
}

// SetSchedulerRunning records whether the scheduler is accepting cycles.
func (r *Runtime) SetSchedulerRunning(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedulerRunning = running
}

// CurrentStatus returns current health status.
func (r *Runtime) CurrentStatus(ctx context.Context) health.Status {
	input := health.Input{
		DatabaseHealthy:   ping(ctx, r.deps.Database),
		CheckpointHealthy: ping(ctx, r.deps.Checkpoints),
	}
	r.mu.RLock()
	input.SchedulerRunning = r.schedulerRunning
	input.LastCycle = r.lastCycle
	r.mu.RUnlock()
	return r.evaluator.Evaluate(input)
}

func ping(ctx context.Context, pinger Pinger) bool {
	if pinger == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, dependencyPingTimeout)
	defer cancel()
	return pinger.PingContext(ctx) == nil
}

// RunCycle fetches merge events for the lookback window, refreshes metrics
// snapshots, and rebuilds the per-day aggregate from the window start. Failed
// organizations never fail the cycle; job errors are joined and returned.
func (r *Runtime) RunCycle(ctx context.Context) (CycleResult, error) {
	result := CycleResult{StartedAt: r.Now()}
	opts := ingest.RunOptions{StartFromID: r.cfg.StartFromID}
	r.logger.Info("ingestion cycle started", zap.Int("lookback_days", r.cfg.LookbackDays))

	var cycleErr error
	merges, err := r.deps.Ingestor.FetchMergeEvents(ctx, r.cfg.LookbackDays, opts)
	result.Merges = merges
	if err != nil {
		r.logger.Warn("merge event job finished with error", zap.Error(err))
		cycleErr = errors.Join(cycleErr, err)
	}

	if ctx.Err() == nil {
		metrics, err := r.deps.Ingestor.RefreshMetrics(ctx, opts)
		result.Metrics = metrics
		if err != nil {
			r.logger.Warn("metrics job finished with error", zap.Error(err))
			cycleErr = errors.Join(cycleErr, err)
		}
	}

	if ctx.Err() == nil && r.deps.Rollup != nil {
		since := result.StartedAt.Add(-time.Duration(r.cfg.LookbackDays) * 24 * time.Hour)
		rows, err := r.deps.Rollup.RebuildOrganizationMergeDates(ctx, since)
		result.RollupRows = rows
		if err != nil {
			r.logger.Warn("merge date rollup failed", zap.Error(err))
			cycleErr = errors.Join(cycleErr, err)
		}
	}

	result.FinishedAt = r.Now()
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveCycle(result.FinishedAt.Sub(result.StartedAt), result.FinishedAt, cycleErr)
	}

	summary := health.CycleSummary{
		FinishedAt: result.FinishedAt,
		FailedOrgs: result.FailedOrgs(),
	}
	if cycleErr != nil {
		summary.Error = cycleErr.Error()
	}
	r.mu.Lock()
	r.lastCycle = summary
	r.mu.Unlock()

	r.logger.Info(
		"ingestion cycle completed",
		zap.Int("merge_rows", result.Merges.RowsWritten),
		zap.Int("metric_rows", result.Metrics.RowsWritten),
		zap.Int("rollup_rows", result.RollupRows),
		zap.Int("failed_orgs", summary.FailedOrgs),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
		zap.Error(cycleErr),
	)
	return result, cycleErr
}
