package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// MigrateFunc executes one migration inside a transaction.
type MigrateFunc func(ctx context.Context, tx *Tx) error

// Migration is one versioned schema change.
type Migration struct {
	Version int64
	Name    string
	Migrate MigrateFunc
}

type migrationRow struct {
	ID      int64  `db:"id"`
	Name    string `db:"name"`
	Version int64  `db:"version"`
}

// Keep this in order of execution, oldest to newest.
var migrations = []Migration{
	{Version: 1, Name: "create tables", Migrate: createTables},
	{Version: 2, Name: "merge dates natural key", Migrate: mergeDatesNaturalKey},
	{Version: 3, Name: "ingest checkpoints", Migrate: createIngestCheckpoints},
}

// Migrate applies all pending migrations and returns how many ran.
func Migrate(ctx context.Context, db *DB) (int, error) {
	applied := 0
	err := db.TransactionContext(ctx, func(tx *Tx) error {
		if !hasTable(ctx, tx, "migrations") {
			if _, err := tx.ExecContext(ctx, migrationsSchema(tx.DriverName())); err != nil {
				return fmt.Errorf("create migrations table: %w", err)
			}
		}

		var latest migrationRow
		if err := tx.GetContext(ctx, &latest, "SELECT id, name, version FROM migrations ORDER BY version DESC LIMIT 1"); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("read latest migration: %w", err)
			}
		}

		for _, m := range migrations {
			if m.Version <= latest.Version {
				continue
			}

			db.logger.Info("running migration", zap.Int64("version", m.Version), zap.String("name", m.Name))
			if err := m.Migrate(ctx, tx); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (name, version) VALUES (?, ?)", m.Name, m.Version); err != nil {
				return fmt.Errorf("record migration %d: %w", m.Version, err)
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

func migrationsSchema(driverName string) string {
	if driverName == DriverPostgres {
		return `CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			version INTEGER NOT NULL UNIQUE
		)`
	}
	return `CREATE TABLE IF NOT EXISTS migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		version INTEGER NOT NULL UNIQUE
	)`
}

func hasTable(ctx context.Context, tx *Tx, tableName string) bool {
	query := "SELECT name FROM sqlite_master WHERE type='table' AND name=?"
	if tx.DriverName() == DriverPostgres {
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
	}

	var name string
	return tx.GetContext(ctx, &name, query, tableName) == nil
}

func createTables(ctx context.Context, tx *Tx) error {
	statements := sqliteTables
	if tx.DriverName() == DriverPostgres {
		statements = postgresTables
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func mergeDatesNaturalKey(ctx context.Context, tx *Tx) error {
	statements := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS merge_dates_natural_key
			ON merge_dates (organization_slug, merge_date, pull_request_number, repository_name)`,
		`CREATE INDEX IF NOT EXISTS merge_dates_merge_date ON merge_dates (merge_date)`,
		`CREATE INDEX IF NOT EXISTS historical_metrics_slug_recorded
			ON historical_metrics (organization_slug, recorded_at)`,
		`CREATE INDEX IF NOT EXISTS organization_merge_dates_slug_date
			ON organization_merge_dates (organization_slug, merge_date)`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// createIngestCheckpoints stores run locks and resume cursors. Lock expiry is
// kept as unix nanoseconds so both drivers compare it numerically.
func createIngestCheckpoints(ctx context.Context, tx *Tx) error {
	_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS ingest_checkpoints (
		job TEXT PRIMARY KEY,
		cursor_org_id BIGINT,
		lock_owner TEXT,
		lock_expires_at BIGINT
	)`)
	return err
}

var sqliteTables = []string{
	`CREATE TABLE IF NOT EXISTS gsoc_organizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT UNIQUE,
		name TEXT,
		github_url TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS github_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		github_followers INTEGER,
		github_repos INTEGER,
		github_bio TEXT,
		fetched_at DATETIME,
		pull_requests INTEGER DEFAULT 0,
		merged_prs INTEGER DEFAULT 0,
		merge_frequency REAL DEFAULT 0.0
	)`,
	`CREATE TABLE IF NOT EXISTS historical_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_slug TEXT NOT NULL,
		organization_name TEXT NOT NULL,
		merge_frequency REAL NOT NULL,
		total_prs INTEGER DEFAULT 0,
		merged_prs INTEGER DEFAULT 0,
		recorded_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS merge_dates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_slug TEXT NOT NULL,
		organization_name TEXT NOT NULL,
		merge_date DATE NOT NULL,
		merged_at DATETIME NOT NULL,
		repository_name TEXT,
		pull_request_number INTEGER,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS organization_merge_dates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_slug TEXT NOT NULL,
		organization_name TEXT NOT NULL,
		merge_date DATE NOT NULL,
		merged_at DATETIME NOT NULL,
		merges_per_day INTEGER NOT NULL DEFAULT 0,
		fetched_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
}

var postgresTables = []string{
	`CREATE TABLE IF NOT EXISTS gsoc_organizations (
		id SERIAL PRIMARY KEY,
		slug TEXT UNIQUE,
		name TEXT,
		github_url TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS github_metrics (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		github_followers INTEGER,
		github_repos INTEGER,
		github_bio TEXT,
		fetched_at TIMESTAMPTZ,
		pull_requests INTEGER DEFAULT 0,
		merged_prs INTEGER DEFAULT 0,
		merge_frequency DOUBLE PRECISION DEFAULT 0.0
	)`,
	`CREATE TABLE IF NOT EXISTS historical_metrics (
		id SERIAL PRIMARY KEY,
		organization_slug TEXT NOT NULL,
		organization_name TEXT NOT NULL,
		merge_frequency DOUBLE PRECISION NOT NULL,
		total_prs INTEGER DEFAULT 0,
		merged_prs INTEGER DEFAULT 0,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS merge_dates (
		id SERIAL PRIMARY KEY,
		organization_slug TEXT NOT NULL,
		organization_name TEXT NOT NULL,
		merge_date DATE NOT NULL,
		merged_at TIMESTAMPTZ NOT NULL,
		repository_name TEXT,
		pull_request_number INTEGER,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS organization_merge_dates (
		id SERIAL PRIMARY KEY,
		organization_slug TEXT NOT NULL,
		organization_name TEXT NOT NULL,
		merge_date DATE NOT NULL,
		merged_at TIMESTAMPTZ NOT NULL,
		merges_per_day INTEGER NOT NULL DEFAULT 0,
		fetched_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}
