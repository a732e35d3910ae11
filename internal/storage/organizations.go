package storage

import (
	"context"
	"fmt"

	"github.com/cam3ron2/org-merge-stats/internal/orgid"
)

type organizationRow struct {
	ID        int64   `db:"id"`
	Name      *string `db:"name"`
	GitHubURL *string `db:"github_url"`
	Slug      *string `db:"slug"`
}

type trackedRow struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Slug string `db:"slug"`
}

// ListOrganizationRecords reads seed organizations ordered by id, optionally
// starting at startFromID.
func (s *Store) ListOrganizationRecords(ctx context.Context, startFromID *int64) ([]orgid.Record, error) {
	query := "SELECT id, name, github_url, slug FROM gsoc_organizations"
	var args []any
	if startFromID != nil {
		query += " WHERE id >= ?"
		args = append(args, *startFromID)
	}
	query += " ORDER BY id"

	var rows []organizationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list organization records: %w", err)
	}

	records := make([]orgid.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, orgid.Record(row))
	}
	return records, nil
}

// ListTrackedOrganizations reads organizations that already have a metrics
// snapshot, ordered by id.
func (s *Store) ListTrackedOrganizations(ctx context.Context, startFromID *int64) ([]orgid.Organization, error) {
	query := "SELECT id, name, slug FROM github_metrics"
	var args []any
	if startFromID != nil {
		query += " WHERE id >= ?"
		args = append(args, *startFromID)
	}
	query += " ORDER BY id"

	var rows []trackedRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list tracked organizations: %w", err)
	}

	orgs := make([]orgid.Organization, 0, len(rows))
	for _, row := range rows {
		orgs = append(orgs, orgid.Organization{ID: row.ID, DisplayName: row.Name, Handle: row.Slug})
	}
	return orgs, nil
}

// SeedOrganizations inserts seed organization rows and returns how many were written.
func (s *Store) SeedOrganizations(ctx context.Context, records []orgid.Record) (int, error) {
	inserted := 0
	err := s.db.TransactionContext(ctx, func(tx *Tx) error {
		for _, record := range records {
			var err error
			if record.ID > 0 {
				_, err = tx.ExecContext(ctx,
					"INSERT INTO gsoc_organizations (id, name, github_url, slug) VALUES (?, ?, ?, ?)",
					record.ID, record.Name, record.GitHubURL, record.Slug,
				)
			} else {
				_, err = tx.ExecContext(ctx,
					"INSERT INTO gsoc_organizations (name, github_url, slug) VALUES (?, ?, ?)",
					record.Name, record.GitHubURL, record.Slug,
				)
			}
			if err != nil {
				return fmt.Errorf("insert organization %d: %w", record.ID, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
