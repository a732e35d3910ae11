package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cam3ron2/org-merge-stats/internal/app"
	"github.com/cam3ron2/org-merge-stats/internal/config"
	"github.com/cam3ron2/org-merge-stats/internal/ingest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultConfigPath = "config/local.yaml"

type rootOptions struct {
	configPath string
}

type runFlags struct {
	startFrom int64
	resume    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "org-merge-stats",
		Short:         "Collect pull request merge activity and metrics for GitHub organizations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "path to YAML config file")

	root.AddCommand(
		newFetchMergesCommand(opts),
		newUpdateMetricsCommand(opts),
		newRollupCommand(opts),
		newMigrateCommand(opts),
		newServeCommand(opts),
	)
	return root
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.startFrom, "start-from", 0, "only process organizations with id >= this value")
	cmd.Flags().BoolVar(&f.resume, "resume", false, "continue after the last organization of an interrupted run")
}

// checkResume rejects --resume when cursors do not outlive the process.
func (f *runFlags) checkResume(backend string) error {
	if f.resume && backend == config.CheckpointMemory {
		return fmt.Errorf("--resume needs a persistent checkpoint backend, checkpoint.backend is %q", backend)
	}
	return nil
}

// options prefers an explicit --start-from over the configured start id.
func (f *runFlags) options(cmd *cobra.Command, configured *int64) ingest.RunOptions {
	opts := ingest.RunOptions{StartFromID: configured, Resume: f.resume}
	if cmd.Flags().Changed("start-from") {
		startFrom := f.startFrom
		opts.StartFromID = &startFrom
	}
	return opts
}

func newFetchMergesCommand(opts *rootOptions) *cobra.Command {
	var (
		days  int
		flags runFlags
	)
	cmd := &cobra.Command{
		Use:   "fetch-merges",
		Short: "Record merged pull requests of each organization's top repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnvironment(cmd.Context(), opts, func(ctx context.Context, env *environment) error {
				if !cmd.Flags().Changed("days") {
					days = env.cfg.Ingest.LookbackDays
				}
				if err := flags.checkResume(env.cfg.Checkpoint.Backend); err != nil {
					return err
				}
				service, err := env.newService()
				if err != nil {
					return err
				}
				report, err := service.FetchMergeEvents(ctx, days, flags.options(cmd, env.cfg.Ingest.StartFromID))
				printReport(cmd.OutOrStdout(), report)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "lookback window in days")
	flags.register(cmd)
	return cmd
}

func newUpdateMetricsCommand(opts *rootOptions) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "update-metrics",
		Short: "Refresh the metrics snapshot and history of each organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnvironment(cmd.Context(), opts, func(ctx context.Context, env *environment) error {
				if err := flags.checkResume(env.cfg.Checkpoint.Backend); err != nil {
					return err
				}
				service, err := env.newService()
				if err != nil {
					return err
				}
				report, err := service.RefreshMetrics(ctx, flags.options(cmd, env.cfg.Ingest.StartFromID))
				printReport(cmd.OutOrStdout(), report)
				return err
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newRollupCommand(opts *rootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Rebuild per-day merge counts from recorded merge events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnvironment(cmd.Context(), opts, func(ctx context.Context, env *environment) error {
				if !cmd.Flags().Changed("days") {
					days = env.cfg.Ingest.LookbackDays
				}
				if days <= 0 {
					return fmt.Errorf("days must be > 0, got %d", days)
				}
				since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
				rows, err := env.store.RebuildOrganizationMergeDates(ctx, since)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "organization merge dates: %d rows written\n", rows)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "rebuild days newer than this many days ago")
	return cmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnvironment(cmd.Context(), opts, func(_ context.Context, _ *environment) error {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "database schema is up to date")
				return nil
			})
		},
	}
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled ingestion cycles and serve metrics and health endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnvironment(cmd.Context(), opts, serve)
		},
	}
}

func withEnvironment(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, env *environment) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := openEnvironment(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func serve(ctx context.Context, env *environment) error {
	service, err := env.newService()
	if err != nil {
		return err
	}

	runtime := app.NewRuntime(app.Dependencies{
		Ingestor:    service,
		Rollup:      env.store,
		Database:    env.db,
		Checkpoints: app.PingFunc(env.checkpoints.Ping),
		Metrics:     env.metrics,
	}, app.RuntimeConfig{
		LookbackDays: env.cfg.Ingest.LookbackDays,
		StartFromID:  env.cfg.Ingest.StartFromID,
	}, env.logger)

	scheduler, err := app.NewScheduler(runtime, env.cfg.Schedule, env.logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              env.cfg.Server.ListenAddr,
		Handler:           runtime.Handler(env.metrics.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		env.logger.Info("http server starting", zap.String("addr", env.cfg.Server.ListenAddr))
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serverErrCh <- serveErr
		}
		close(serverErrCh)
	}()

	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	schedulerErrCh := make(chan error, 1)
	go func() {
		schedulerErrCh <- scheduler.Run(schedulerCtx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		env.logger.Info("shutdown signal received")
	case serveErr := <-serverErrCh:
		runErr = serverFailure(serveErr)
	case schedErr := <-schedulerErrCh:
		schedulerErrCh = nil
		if schedErr != nil {
			env.logger.Warn("scheduled run finished with errors", zap.Error(schedErr))
		}
		if scheduler.Spec() == "" {
			// A single run keeps serving metrics until shutdown.
			runErr = awaitServing(ctx, serverErrCh)
		}
	}

	stopScheduler()
	if schedulerErrCh != nil {
		<-schedulerErrCh
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("http server shutdown: %w", err))
	}

	env.logger.Info("shutdown complete")
	return runErr
}

// awaitServing blocks until shutdown or an HTTP server failure.
func awaitServing(ctx context.Context, serverErrCh <-chan error) error {
	select {
	case <-ctx.Done():
		return nil
	case serveErr := <-serverErrCh:
		return serverFailure(serveErr)
	}
}

func serverFailure(serveErr error) error {
	if serveErr == nil {
		return nil
	}
	return fmt.Errorf("http server failed: %w", serveErr)
}

func printReport(w io.Writer, report ingest.Report) {
	_, _ = fmt.Fprintf(w,
		"%s: %d rows written, %d done, %d skipped, %d failed in %s\n",
		report.Job,
		report.RowsWritten,
		report.Done(),
		report.Skipped(),
		report.Failed(),
		report.Duration().Round(time.Second),
	)
	if report.SkippedWithoutHandle > 0 || report.Duplicates > 0 {
		_, _ = fmt.Fprintf(w, "%s: %d organizations without a handle, %d duplicates\n",
			report.Job, report.SkippedWithoutHandle, report.Duplicates)
	}
	if report.Interrupted {
		_, _ = fmt.Fprintf(w, "%s: interrupted, rerun with --resume to continue\n", report.Job)
	}
}
