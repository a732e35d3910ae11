package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RebuildOrganizationMergeDates recomputes organization_merge_dates for every
// merge date on or after since. Each (organization, day) gets one row with the
// merge count, the latest merge time, and the snapshot fetch time.
func (s *Store) RebuildOrganizationMergeDates(ctx context.Context, since time.Time) (int, error) {
	from := MergeDateOf(since)
	createdAt := s.now()

	var rows int64
	err := s.db.TransactionContext(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM organization_merge_dates WHERE merge_date >= ?", from); err != nil {
			return fmt.Errorf("clear merge days: %w", err)
		}

		result, err := tx.ExecContext(ctx, `INSERT INTO organization_merge_dates
				(organization_slug, organization_name, merge_date, merged_at, merges_per_day, fetched_at, created_at)
			SELECT md.organization_slug, MAX(md.organization_name), md.merge_date, MAX(md.merged_at), COUNT(*),
				(SELECT gm.fetched_at FROM github_metrics gm WHERE gm.slug = md.organization_slug),
				?
			FROM merge_dates md
			WHERE md.merge_date >= ?
			GROUP BY md.organization_slug, md.merge_date`,
			createdAt, from,
		)
		if err != nil {
			return fmt.Errorf("rebuild merge days: %w", err)
		}
		rows, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rebuild merge days: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("rebuilt organization merge dates", zap.Time("since", from), zap.Int64("rows", rows))
	return int(rows), nil
}

// ListMergeDays returns the rolled-up merge days for slug, oldest first.
func (s *Store) ListMergeDays(ctx context.Context, slug string) ([]MergeDay, error) {
	var days []MergeDay
	err := s.db.SelectContext(ctx, &days, `SELECT id, organization_slug, organization_name, merge_date,
			merged_at, merges_per_day, fetched_at, created_at
		FROM organization_merge_dates WHERE organization_slug = ? ORDER BY merge_date`, slug)
	if err != nil {
		return nil, fmt.Errorf("list merge days %s: %w", slug, err)
	}
	return days, nil
}
