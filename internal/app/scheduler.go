package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cam3ron2/org-merge-stats/internal/config"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const schedulerStopTimeout = 30 * time.Second

// CycleRunner runs one ingestion cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (CycleResult, error)
	SetSchedulerRunning(running bool)
}

// Scheduler triggers ingestion cycles on a cron schedule. Overlapping
// triggers are skipped while a cycle is still running.
type Scheduler struct {
	runner     CycleRunner
	spec       string
	runOnStart bool
	logger     *zap.Logger
}

// cronLogger adapts zap to the cron logger interface.
type cronLogger struct {
	logger *zap.Logger
}

// Info logs routine messages about cron's operation.
func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

// Error logs an error condition.
func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

// NewScheduler validates the schedule and returns a scheduler. Mode "once"
// yields a scheduler that runs a single cycle.
func NewScheduler(runner CycleRunner, cfg config.ScheduleConfig, logger ...*zap.Logger) (*Scheduler, error) {
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}
	if runner == nil {
		return nil, fmt.Errorf("cycle runner is nil")
	}

	spec, err := cfg.CronSpec()
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	if spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
		}
	}

	return &Scheduler{
		runner:     runner,
		spec:       spec,
		runOnStart: cfg.RunOnStart,
		logger:     baseLogger.With(zap.String("component", "scheduler")),
	}, nil
}

// Spec returns the cron expression, empty for a single run.
func (s *Scheduler) Spec() string {
	return s.spec
}

// Run blocks until ctx is canceled, triggering cycles on schedule. With no
// recurring spec it runs one cycle and returns its error.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.spec == "" {
		s.runner.SetSchedulerRunning(true)
		defer s.runner.SetSchedulerRunning(false)
		_, err := s.runner.RunCycle(ctx)
		return err
	}

	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	job := cron.FuncJob(func() { s.runCycle(ctx) })
	if _, err := c.AddJob(s.spec, job); err != nil {
		return fmt.Errorf("add schedule %q: %w", s.spec, err)
	}

	s.runner.SetSchedulerRunning(true)
	defer s.runner.SetSchedulerRunning(false)
	c.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec), zap.Bool("run_on_start", s.runOnStart))

	// cron only waits for jobs it started itself on Stop.
	var startup sync.WaitGroup
	if s.runOnStart {
		// Route through the job chain so a scheduled tick cannot overlap it.
		wrapped := c.Entries()[0].WrappedJob
		startup.Add(1)
		go func() {
			defer startup.Done()
			wrapped.Run()
		}()
	}

	<-ctx.Done()
	stopped := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		startup.Wait()
		close(stopped)
	}()

	timer := time.NewTimer(schedulerStopTimeout)
	defer timer.Stop()
	select {
	case <-stopped:
		s.logger.Info("scheduler stopped")
	case <-timer.C:
		s.logger.Warn("scheduler stop timed out with a cycle still running", zap.Duration("timeout", schedulerStopTimeout))
	}
	return nil
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.runner.RunCycle(ctx); err != nil {
		s.logger.Warn("ingestion cycle finished with errors", zap.Error(err))
	}
}
