package storage

import (
	"time"

	"go.uber.org/zap"
)

// Store runs the ingestion queries. Each operation uses its own short-lived
// transaction.
type Store struct {
	db     *DB
	logger *zap.Logger
	// Now is injected for testability.
	Now func() time.Time
}

// NewStore creates a store over an open database.
func NewStore(db *DB, logger ...*zap.Logger) *Store {
	log := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		log = logger[0]
	}
	return &Store{
		db:     db,
		logger: log,
		Now:    time.Now,
	}
}

// DB returns the underlying database handle.
func (s *Store) DB() *DB {
	return s.db
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}
