package ingest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cam3ron2/org-merge-stats/internal/githubapi"
	"github.com/cam3ron2/org-merge-stats/internal/orgid"
	"github.com/cam3ron2/org-merge-stats/internal/storage"
	"go.uber.org/zap"
)

// RepositoryAPI is the typed GitHub API consumed by the source.
type RepositoryAPI interface {
	ListTopRepositories(ctx context.Context, org string, limit int) (githubapi.TopRepositoriesResult, error)
	CountPullRequests(ctx context.Context, owner, repo string) (githubapi.PullRequestCounts, error)
	ListMergedPullRequests(
		ctx context.Context,
		owner, repo string,
		cutoff time.Time,
		order githubapi.PullOrder,
	) (githubapi.MergedPullRequestsResult, error)
}

// ProfileAPI fetches organization profiles.
type ProfileAPI interface {
	GetOrgProfile(ctx context.Context, org string) (githubapi.OrgProfile, bool)
}

// MergeCollection is the merge events gathered for one organization.
type MergeCollection struct {
	Events         []storage.MergeEvent
	Repositories   int
	Skipped        int
	RateLimitWaits int
}

// OrgMetrics is the profile and pull request totals gathered for one organization.
type OrgMetrics struct {
	Followers      int
	PublicRepos    int
	Bio            string
	TotalPRs       int
	MergedPRs      int
	MergeFrequency float64
	FetchedAt      time.Time
	RateLimitWaits int
}

// GitHubSourceConfig configures GitHubSource.
type GitHubSourceConfig struct {
	TopRepos  int
	RepoDelay time.Duration
	PullOrder githubapi.PullOrder
	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
}

// GitHubSource gathers merge events and metrics for organizations from GitHub.
type GitHubSource struct {
	repos    RepositoryAPI
	profiles ProfileAPI
	cfg      GitHubSourceConfig
	logger   *zap.Logger
}

// NewGitHubSource creates a source over the typed GitHub clients.
func NewGitHubSource(repos RepositoryAPI, profiles ProfileAPI, cfg GitHubSourceConfig, logger ...*zap.Logger) *GitHubSource {
	if cfg.TopRepos <= 0 {
		cfg.TopRepos = 5
	}
	if cfg.RepoDelay < 0 {
		cfg.RepoDelay = 0
	}
	if cfg.PullOrder.Sort == "" || cfg.PullOrder.Direction == "" {
		cfg.PullOrder = githubapi.DefaultPullOrder
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = githubapi.SleepContext
	}

	log := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		log = logger[0]
	}

	return &GitHubSource{
		repos:    repos,
		profiles: profiles,
		cfg:      cfg,
		logger:   log,
	}
}

// CollectMergeEvents returns the merges of the organization's top repositories
// within the last days. Repositories are walked one at a time with RepoDelay
// between them; a failing repository is logged and skipped.
func (s *GitHubSource) CollectMergeEvents(ctx context.Context, org orgid.Organization, days int) (MergeCollection, error) {
	if days <= 0 {
		return MergeCollection{}, fmt.Errorf("lookback days must be > 0")
	}
	cutoff := s.cfg.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	log := s.logger.With(zap.Int64("org_id", org.ID), zap.String("handle", org.Handle))

	top, err := s.repos.ListTopRepositories(ctx, org.Handle, s.cfg.TopRepos)
	if err != nil {
		return MergeCollection{}, fmt.Errorf("list repositories for %s: %w", org.Handle, err)
	}
	collection := MergeCollection{RateLimitWaits: top.RateLimitWaits}
	if top.Status != githubapi.EndpointStatusOK {
		log.Warn("repository listing incomplete", zap.String("status", string(top.Status)), zap.Error(top.Err))
	}

	for i, repo := range top.Repositories {
		if i > 0 {
			if err := s.cfg.Sleep(ctx, s.cfg.RepoDelay); err != nil {
				return collection, err
			}
		}

		merged, err := s.repos.ListMergedPullRequests(ctx, org.Handle, repo.Name, cutoff, s.cfg.PullOrder)
		if err != nil {
			log.Warn("skipping repository", zap.String("repo", repo.Name), zap.Error(err))
			continue
		}
		collection.Repositories++
		collection.Skipped += merged.Skipped
		collection.RateLimitWaits += merged.RateLimitWaits

		for _, pull := range merged.PullRequests {
			collection.Events = append(collection.Events, storage.MergeEvent{
				Slug:              org.Handle,
				Name:              org.DisplayName,
				MergeDate:         storage.MergeDateOf(pull.MergedAt),
				MergedAt:          pull.MergedAt,
				Repository:        repo.Name,
				PullRequestNumber: pull.Number,
			})
		}

		log.Debug("collected repository merges",
			zap.String("repo", repo.Name),
			zap.Int("merges", len(merged.PullRequests)),
			zap.Int("examined", merged.Examined),
			zap.Bool("reached_cutoff", merged.ReachedCutoff),
			zap.String("status", string(merged.Status)),
		)
		if err := ctx.Err(); err != nil {
			return collection, err
		}
	}

	return collection, nil
}

// FetchOrgMetrics returns the organization's profile counters and pull request
// totals across its top repositories. A missing profile yields ErrNoData.
func (s *GitHubSource) FetchOrgMetrics(ctx context.Context, org orgid.Organization) (OrgMetrics, error) {
	profile, ok := s.profiles.GetOrgProfile(ctx, org.Handle)
	if !ok {
		return OrgMetrics{}, ErrNoData
	}

	top, err := s.repos.ListTopRepositories(ctx, org.Handle, s.cfg.TopRepos)
	if err != nil {
		return OrgMetrics{}, fmt.Errorf("list repositories for %s: %w", org.Handle, err)
	}

	metrics := OrgMetrics{
		Followers:      profile.Followers,
		PublicRepos:    profile.PublicRepos,
		Bio:            profile.Bio,
		RateLimitWaits: top.RateLimitWaits,
	}
	for _, repo := range top.Repositories {
		counts, err := s.repos.CountPullRequests(ctx, org.Handle, repo.Name)
		if err != nil {
			s.logger.Warn("skipping repository pull request counts",
				zap.String("handle", org.Handle),
				zap.String("repo", repo.Name),
				zap.Error(err),
			)
			continue
		}
		metrics.TotalPRs += counts.Total
		metrics.MergedPRs += counts.Merged
		metrics.RateLimitWaits += counts.RateLimitWaits
		if err := ctx.Err(); err != nil {
			return OrgMetrics{}, err
		}
	}

	metrics.MergeFrequency = MergeFrequency(metrics.MergedPRs, metrics.TotalPRs)
	metrics.FetchedAt = s.cfg.Now().UTC()
	return metrics, nil
}

// MergeFrequency is merged/total rounded to three decimals, or 0 when total is 0.
func MergeFrequency(merged, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(merged)/float64(total)*1000) / 1000
}
