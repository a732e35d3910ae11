// Package storage persists organizations, metrics snapshots, observations,
// and merge events in SQLite or Postgres.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cam3ron2/org-merge-stats/internal/telemetry"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB is a database handle with query tracing.
type DB struct {
	*sqlx.DB
	logger *zap.Logger
}

// Tx is a database transaction with query tracing.
type Tx struct {
	*sqlx.Tx
	logger *zap.Logger
}

// Open opens and pings a database connection.
func Open(ctx context.Context, driverName, dsn string, logger ...*zap.Logger) (*DB, error) {
	log := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		log = logger[0]
	}

	driverName = strings.ToLower(strings.TrimSpace(driverName))
	switch driverName {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driverName, err)
	}
	if driverName == DriverSQLite {
		// SQLite permits a single writer.
		db.SetMaxOpenConns(1)
	}

	return &DB{DB: db, logger: log}, nil
}

// sqliteDSN adds the connection parameters every sqlite handle needs.
func sqliteDSN(dsn string) string {
	params := []string{"_time_format=sqlite", "_pragma=busy_timeout(5000)"}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	for _, param := range params {
		key, _, _ := strings.Cut(param, "=")
		if strings.Contains(dsn, key+"=") {
			continue
		}
		dsn += separator + param
		separator = "&"
	}
	return dsn
}

// Close closes the database.
func (d *DB) Close() error {
	return d.DB.Close()
}

// TransactionContext runs fn inside one transaction. The transaction is
// rolled back when fn returns an error or panics, and committed otherwise.
func (d *DB) TransactionContext(ctx context.Context, fn func(tx *Tx) error) (err error) {
	ctx, span := telemetry.StartDependencySpan(ctx, "storage", "storage.transaction",
		attribute.String("db.system", d.DriverName()),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	sqlTx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &Tx{Tx: sqlTx, logger: d.logger}

	defer func() {
		if recovered := recover(); recovered != nil {
			_ = sqlTx.Rollback()
			panic(recovered)
		}
	}()

	if err := fn(tx); err != nil {
		if rollbackErr := sqlTx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rollbackErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func trace(logger *zap.Logger, query string, args ...any) {
	if logger == nil || !logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	query = strings.Join(strings.Fields(query), " ")
	logger.Debug("trace", zap.String("query", query), zap.Any("args", args))
}

// GetContext is a wrapper around sqlx.GetContext that logs the query and arguments.
func (t *Tx) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	query = t.Rebind(query)
	trace(t.logger, query, args...)
	return t.Tx.GetContext(ctx, dest, query, args...)
}

// SelectContext is a wrapper around sqlx.SelectContext that logs the query and arguments.
func (t *Tx) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	query = t.Rebind(query)
	trace(t.logger, query, args...)
	return t.Tx.SelectContext(ctx, dest, query, args...)
}

// ExecContext is a wrapper around sqlx.ExecContext that logs the query and arguments.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = t.Rebind(query)
	trace(t.logger, query, args...)
	return t.Tx.ExecContext(ctx, query, args...)
}

// GetContext is a wrapper around sqlx.GetContext that logs the query and arguments.
func (d *DB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	query = d.Rebind(query)
	trace(d.logger, query, args...)
	return d.DB.GetContext(ctx, dest, query, args...)
}

// SelectContext is a wrapper around sqlx.SelectContext that logs the query and arguments.
func (d *DB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	query = d.Rebind(query)
	trace(d.logger, query, args...)
	return d.DB.SelectContext(ctx, dest, query, args...)
}
