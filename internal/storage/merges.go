package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// SaveMergeEvents inserts every event whose natural key is not stored yet and
// returns how many rows were written. The batch commits once; any lookup or
// insert failure rolls back the whole batch.
func (s *Store) SaveMergeEvents(ctx context.Context, events []MergeEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	createdAt := s.now()

	inserted := 0
	err := s.db.TransactionContext(ctx, func(tx *Tx) error {
		inserted = 0
		for _, event := range events {
			mergedAt := event.MergedAt.UTC()
			mergeDate := event.MergeDate
			if mergeDate.IsZero() {
				mergeDate = MergeDateOf(mergedAt)
			}
			mergeDate = MergeDateOf(mergeDate)

			var id int64
			err := tx.GetContext(ctx, &id, `SELECT id FROM merge_dates
				WHERE organization_slug = ? AND merge_date = ? AND pull_request_number = ? AND repository_name = ?`,
				event.Slug, mergeDate, event.PullRequestNumber, event.Repository,
			)
			switch {
			case err == nil:
				continue
			case !errors.Is(err, sql.ErrNoRows):
				return fmt.Errorf("lookup merge event %s/%s#%d: %w", event.Slug, event.Repository, event.PullRequestNumber, err)
			}

			eventCreatedAt := event.CreatedAt
			if eventCreatedAt.IsZero() {
				eventCreatedAt = createdAt
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO merge_dates
					(organization_slug, organization_name, merge_date, merged_at,
					repository_name, pull_request_number, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				event.Slug, event.Name, mergeDate, mergedAt,
				event.Repository, event.PullRequestNumber, eventCreatedAt.UTC(),
			); err != nil {
				return fmt.Errorf("insert merge event %s/%s#%d: %w", event.Slug, event.Repository, event.PullRequestNumber, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("saved merge events", zap.Int("received", len(events)), zap.Int("inserted", inserted))
	return inserted, nil
}

// ListMergeEvents returns the stored merge events for slug ordered by merge time.
func (s *Store) ListMergeEvents(ctx context.Context, slug string) ([]MergeEvent, error) {
	var events []MergeEvent
	err := s.db.SelectContext(ctx, &events, `SELECT id, organization_slug, organization_name,
			merge_date, merged_at, repository_name, pull_request_number, created_at
		FROM merge_dates WHERE organization_slug = ? ORDER BY merged_at, id`, slug)
	if err != nil {
		return nil, fmt.Errorf("list merge events %s: %w", slug, err)
	}
	return events, nil
}

// CountMergeEvents counts merge events for slug, or all of them when slug is empty.
func (s *Store) CountMergeEvents(ctx context.Context, slug string) (int, error) {
	return s.count(ctx, "merge_dates", slug)
}
