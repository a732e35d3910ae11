package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cam3ron2/org-merge-stats/internal/checkpoint"
	"github.com/cam3ron2/org-merge-stats/internal/config"
	"github.com/cam3ron2/org-merge-stats/internal/exporter"
	"github.com/cam3ron2/org-merge-stats/internal/githubapi"
	"github.com/cam3ron2/org-merge-stats/internal/ingest"
	"github.com/cam3ron2/org-merge-stats/internal/storage"
	"github.com/cam3ron2/org-merge-stats/internal/telemetry"
	"go.uber.org/zap"
)

const userAgent = "org-merge-stats"

// environment holds the dependencies shared by every command.
type environment struct {
	cfg         *config.Config
	logger      *zap.Logger
	telemetry   telemetry.Runtime
	db          *storage.DB
	store       *storage.Store
	checkpoints checkpoint.Store
	metrics     *exporter.Metrics
}

func loadConfig(path string) (*config.Config, error) {
	configFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer func() {
		_ = configFile.Close()
	}()

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openEnvironment loads configuration, builds the logger and telemetry, and
// opens and migrates the database.
func openEnvironment(ctx context.Context, configPath string) (*environment, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}

	telemetryRuntime, err := telemetry.Setup(telemetry.Config{
		Enabled:          cfg.Telemetry.OTELEnabled,
		ServiceName:      telemetry.DefaultServiceName,
		TraceMode:        cfg.Telemetry.OTELTraceMode,
		TraceSampleRatio: cfg.Telemetry.OTELTraceSampleRatio,
	})
	if err != nil {
		syncLogger(logger)
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	env := &environment{
		cfg:       cfg,
		logger:    logger,
		telemetry: telemetryRuntime,
	}

	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	env.db = db

	applied, err := storage.Migrate(ctx, db)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if applied > 0 {
		logger.Info("database migrated", zap.Int("applied", applied))
	}

	env.store = storage.NewStore(db, logger)
	env.checkpoints = checkpoint.New(cfg.Checkpoint, db, logger)
	env.metrics = exporter.NewMetrics(env.store, logger)
	return env, nil
}

// Close releases every dependency opened by openEnvironment.
func (e *environment) Close() {
	if e.checkpoints != nil {
		if err := e.checkpoints.Close(); err != nil {
			e.logger.Warn("close checkpoint store", zap.Error(err))
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.logger.Warn("close database", zap.Error(err))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.telemetry.Shutdown(shutdownCtx)
	syncLogger(e.logger)
}

// newService wires the GitHub clients and the ingestion service.
func (e *environment) newService() (*ingest.Service, error) {
	gh := e.cfg.GitHub
	httpClient := githubapi.NewHTTPClient(gh.RequestTimeout)

	client := githubapi.NewClient(httpClient, githubapi.ClientConfig{
		Token:            gh.Token,
		UserAgent:        userAgent,
		RateLimitBackoff: gh.RateLimitBackoff,
		PageDelay:        gh.PageDelay,
	}, e.logger)
	dataClient, err := githubapi.NewDataClient(gh.APIBaseURL, client, githubapi.PageCaps{
		Repositories: gh.RepoPageCap,
		PullCounts:   gh.PullCountPageCap,
		MergedPulls:  gh.MergePageCap,
	}, e.logger)
	if err != nil {
		return nil, fmt.Errorf("build github data client: %w", err)
	}
	restClient, err := githubapi.NewGitHubRESTClient(httpClient, gh.APIBaseURL, gh.Token, e.logger)
	if err != nil {
		return nil, fmt.Errorf("build github rest client: %w", err)
	}

	source := ingest.NewGitHubSource(dataClient, restClient, ingest.GitHubSourceConfig{
		TopRepos:  gh.TopRepos,
		RepoDelay: gh.RepoDelay,
		PullOrder: githubapi.PullOrder{Sort: gh.PullSort, Direction: gh.PullDirection},
	}, e.logger)

	return ingest.NewService(source, e.store, ingest.ServiceConfig{
		OrgTimeout: e.cfg.Ingest.OrgTimeout,
		Persist: ingest.RetryPolicy{
			MaxAttempts: e.cfg.Ingest.PersistAttempts,
			Backoff:     e.cfg.Ingest.PersistBackoff,
		},
		LockTTL:     e.cfg.Checkpoint.LockTTL,
		Checkpoints: e.checkpoints,
		Recorder:    e.metrics,
	}, e.logger), nil
}
