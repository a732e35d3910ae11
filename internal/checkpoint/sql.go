package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cam3ron2/org-merge-stats/internal/storage"
)

const sqlStoreTimeout = 5 * time.Second

// SQLStore keeps run locks and cursors in the ingest_checkpoints table, so a
// cursor saved by an interrupted run is visible to the next process.
type SQLStore struct {
	db    *storage.DB
	owner string
}

// NewSQLStore creates a store over a migrated database.
func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db, owner: newOwnerToken()}
}

// AcquireRunLock takes the run lock for job until now+ttl. A lock whose
// expiry has passed is taken over.
func (s *SQLStore) AcquireRunLock(job string, ttl time.Duration, now time.Time) bool {
	if s == nil || s.db == nil {
		return false
	}
	if ttl <= 0 {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlStoreTimeout)
	defer cancel()

	acquired := false
	err := s.db.TransactionContext(ctx, func(tx *storage.Tx) error {
		if err := ensureJobRow(ctx, tx, job); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE ingest_checkpoints SET lock_owner = ?, lock_expires_at = ?
			WHERE job = ? AND (lock_expires_at IS NULL OR lock_expires_at <= ?)`,
			s.owner, now.Add(ttl).UnixNano(), job, now.UnixNano(),
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		acquired = affected == 1
		return nil
	})
	return err == nil && acquired
}

// ReleaseRunLock drops the run lock for job if this store still owns it.
func (s *SQLStore) ReleaseRunLock(job string) error {
	return s.exec(`UPDATE ingest_checkpoints SET lock_owner = NULL, lock_expires_at = NULL
		WHERE job = ? AND lock_owner = ?`, "release run lock "+job, job, s.owner)
}

// SetCursor records the last organization id processed by job.
func (s *SQLStore) SetCursor(job string, orgID int64) error {
	if strings.TrimSpace(job) == "" {
		return fmt.Errorf("job is required")
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("sql checkpoint store is not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlStoreTimeout)
	defer cancel()
	err := s.db.TransactionContext(ctx, func(tx *storage.Tx) error {
		if err := ensureJobRow(ctx, tx, job); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "UPDATE ingest_checkpoints SET cursor_org_id = ? WHERE job = ?", orgID, job)
		return err
	})
	if err != nil {
		return fmt.Errorf("set cursor %s: %w", job, err)
	}
	return nil
}

// Cursor returns the last organization id recorded for job.
func (s *SQLStore) Cursor(job string) (int64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, fmt.Errorf("sql checkpoint store is not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlStoreTimeout)
	defer cancel()

	var cursor sql.NullInt64
	err := s.db.GetContext(ctx, &cursor, "SELECT cursor_org_id FROM ingest_checkpoints WHERE job = ?", job)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get cursor %s: %w", job, err)
	}
	return cursor.Int64, cursor.Valid, nil
}

// ClearCursor removes the cursor for job.
func (s *SQLStore) ClearCursor(job string) error {
	return s.exec("UPDATE ingest_checkpoints SET cursor_org_id = NULL WHERE job = ?", "clear cursor "+job, job)
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sql checkpoint store is not initialized")
	}
	return s.db.PingContext(ctx)
}

// Close is a no-op; the database belongs to the caller.
func (s *SQLStore) Close() error {
	return nil
}

func (s *SQLStore) exec(query, operation string, args ...any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sql checkpoint store is not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlStoreTimeout)
	defer cancel()
	err := s.db.TransactionContext(ctx, func(tx *storage.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

func ensureJobRow(ctx context.Context, tx *storage.Tx, job string) error {
	_, err := tx.ExecContext(ctx, "INSERT INTO ingest_checkpoints (job) VALUES (?) ON CONFLICT (job) DO NOTHING", job)
	return err
}
