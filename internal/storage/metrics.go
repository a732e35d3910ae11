package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const snapshotColumns = `id, name, slug, github_followers, github_repos, github_bio,
	fetched_at, pull_requests, merged_prs, merge_frequency`

// SaveMetrics updates the snapshot for snapshot.Slug, inserting it when no row
// exists yet, and appends observation. Both writes commit together.
func (s *Store) SaveMetrics(ctx context.Context, snapshot Snapshot, observation Observation) error {
	if snapshot.Slug == "" {
		return fmt.Errorf("save metrics: empty slug")
	}
	if snapshot.FetchedAt.IsZero() {
		snapshot.FetchedAt = s.now()
	}
	if observation.RecordedAt.IsZero() {
		observation.RecordedAt = snapshot.FetchedAt
	}

	return s.db.TransactionContext(ctx, func(tx *Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE github_metrics SET
				name = ?, github_followers = ?, github_repos = ?, github_bio = ?,
				fetched_at = ?, pull_requests = ?, merged_prs = ?, merge_frequency = ?
			WHERE slug = ?`,
			snapshot.Name, snapshot.Followers, snapshot.Repos, snapshot.Bio,
			snapshot.FetchedAt.UTC(), snapshot.PullRequests, snapshot.MergedPRs, snapshot.MergeFrequency,
			snapshot.Slug,
		)
		if err != nil {
			return fmt.Errorf("update snapshot %s: %w", snapshot.Slug, err)
		}
		updated, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update snapshot %s: %w", snapshot.Slug, err)
		}
		if updated == 0 {
			if _, err := tx.ExecContext(ctx, `INSERT INTO github_metrics
					(name, slug, github_followers, github_repos, github_bio,
					fetched_at, pull_requests, merged_prs, merge_frequency)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				snapshot.Name, snapshot.Slug, snapshot.Followers, snapshot.Repos, snapshot.Bio,
				snapshot.FetchedAt.UTC(), snapshot.PullRequests, snapshot.MergedPRs, snapshot.MergeFrequency,
			); err != nil {
				return fmt.Errorf("insert snapshot %s: %w", snapshot.Slug, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO historical_metrics
				(organization_slug, organization_name, merge_frequency, total_prs, merged_prs, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			observation.Slug, observation.Name, observation.MergeFrequency,
			observation.TotalPRs, observation.MergedPRs, observation.RecordedAt.UTC(),
		); err != nil {
			return fmt.Errorf("append observation %s: %w", observation.Slug, err)
		}

		s.logger.Debug("saved metrics snapshot", zap.String("slug", snapshot.Slug))
		return nil
	})
}

// GetSnapshot returns the current snapshot for slug or ErrRecordNotFound.
func (s *Store) GetSnapshot(ctx context.Context, slug string) (Snapshot, error) {
	var snapshot Snapshot
	err := s.db.GetContext(ctx, &snapshot, "SELECT "+snapshotColumns+" FROM github_metrics WHERE slug = ?", slug)
	if err != nil {
		return Snapshot{}, WrapError(err)
	}
	return snapshot, nil
}

// ListSnapshots returns every snapshot ordered by slug.
func (s *Store) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	var snapshots []Snapshot
	if err := s.db.SelectContext(ctx, &snapshots, "SELECT "+snapshotColumns+" FROM github_metrics ORDER BY slug"); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snapshots, nil
}

// ListObservations returns the observations recorded for slug, oldest first.
func (s *Store) ListObservations(ctx context.Context, slug string) ([]Observation, error) {
	var observations []Observation
	err := s.db.SelectContext(ctx, &observations, `SELECT id, organization_slug, organization_name,
			merge_frequency, total_prs, merged_prs, recorded_at
		FROM historical_metrics WHERE organization_slug = ? ORDER BY recorded_at, id`, slug)
	if err != nil {
		return nil, fmt.Errorf("list observations %s: %w", slug, err)
	}
	return observations, nil
}

// CountObservations counts observations for slug, or all of them when slug is empty.
func (s *Store) CountObservations(ctx context.Context, slug string) (int, error) {
	return s.count(ctx, "historical_metrics", slug)
}

func (s *Store) count(ctx context.Context, table, slug string) (int, error) {
	column := "organization_slug"
	if table == "github_metrics" {
		column = "slug"
	}
	query := "SELECT COUNT(*) FROM " + table
	var args []any
	if slug != "" {
		query += " WHERE " + column + " = ?"
		args = append(args, slug)
	}

	var n int
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// CountSnapshots counts snapshot rows, or the one for slug when given.
func (s *Store) CountSnapshots(ctx context.Context, slug string) (int, error) {
	return s.count(ctx, "github_metrics", slug)
}
