package exporter

import (
	"context"
	"net/http"
	"time"

	"github.com/cam3ron2/org-merge-stats/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const snapshotReadTimeout = 5 * time.Second

// SnapshotReader reads the current per-organization metrics snapshots.
type SnapshotReader interface {
	ListSnapshots(ctx context.Context) ([]storage.Snapshot, error)
}

// NewOpenMetricsHandler returns a handler that renders the registry through the Prometheus OpenMetrics encoder.
func NewOpenMetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

type snapshotCollector struct {
	reader SnapshotReader
	logger *zap.Logger

	mergeFrequency *prometheus.Desc
	pullRequests   *prometheus.Desc
	followers      *prometheus.Desc
	publicRepos    *prometheus.Desc
	fetchedAt      *prometheus.Desc
}

func newSnapshotCollector(reader SnapshotReader, logger *zap.Logger) *snapshotCollector {
	orgLabels := []string{"org", "slug"}
	return &snapshotCollector{
		reader: reader,
		logger: logger,
		mergeFrequency: prometheus.NewDesc(
			"org_merge_stats_org_merge_frequency",
			"Merged pull requests divided by observed pull requests for the organization's top repositories.",
			orgLabels, nil,
		),
		pullRequests: prometheus.NewDesc(
			"org_merge_stats_org_pull_requests",
			"Pull requests observed in the organization's top repositories by state.",
			append(orgLabels, "state"), nil,
		),
		followers: prometheus.NewDesc(
			"org_merge_stats_org_followers",
			"Organization followers reported by GitHub.",
			orgLabels, nil,
		),
		publicRepos: prometheus.NewDesc(
			"org_merge_stats_org_public_repos",
			"Organization public repositories reported by GitHub.",
			orgLabels, nil,
		),
		fetchedAt: prometheus.NewDesc(
			"org_merge_stats_org_fetched_unixtime",
			"Unix time of the organization's last successful metrics fetch.",
			orgLabels, nil,
		),
	}
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.mergeFrequency
	ch <- c.pullRequests
	ch <- c.followers
	ch <- c.publicRepos
	ch <- c.fetchedAt
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.reader == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotReadTimeout)
	defer cancel()
	snapshots, err := c.reader.ListSnapshots(ctx)
	if err != nil {
		c.logger.Warn("failed to read snapshots for metrics", zap.Error(err))
		return
	}

	for _, snapshot := range snapshots {
		if snapshot.Slug == "" {
			continue
		}
		labels := []string{snapshot.Name, snapshot.Slug}
		ch <- prometheus.MustNewConstMetric(c.mergeFrequency, prometheus.GaugeValue, snapshot.MergeFrequency, labels...)
		ch <- prometheus.MustNewConstMetric(c.pullRequests, prometheus.GaugeValue, float64(snapshot.PullRequests), append(labels, "all")...)
		ch <- prometheus.MustNewConstMetric(c.pullRequests, prometheus.GaugeValue, float64(snapshot.MergedPRs), append(labels, "merged")...)
		ch <- prometheus.MustNewConstMetric(c.followers, prometheus.GaugeValue, float64(snapshot.Followers), labels...)
		ch <- prometheus.MustNewConstMetric(c.publicRepos, prometheus.GaugeValue, float64(snapshot.Repos), labels...)
		if !snapshot.FetchedAt.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.fetchedAt, prometheus.GaugeValue, float64(snapshot.FetchedAt.Unix()), labels...)
		}
	}
}
