// Package checkpoint stores ingestion run locks and resume cursors.
package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process checkpoint store. Its cursors are lost when
// the process exits.
type MemoryStore struct {
	mu      sync.Mutex
	locks   map[string]time.Time
	cursors map[string]int64
}

// NewMemoryStore creates a memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:   make(map[string]time.Time),
		cursors: make(map[string]int64),
	}
}

// AcquireRunLock takes the run lock for job until now+ttl.
func (s *MemoryStore) AcquireRunLock(job string, ttl time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return acquireLock(s.locks, job, ttl, now)
}

// ReleaseRunLock drops the run lock for job.
func (s *MemoryStore) ReleaseRunLock(job string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, job)
	return nil
}

// SetCursor records the last organization id processed by job.
func (s *MemoryStore) SetCursor(job string, orgID int64) error {
	if strings.TrimSpace(job) == "" {
		return fmt.Errorf("job is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[job] = orgID
	return nil
}

// Cursor returns the last organization id recorded for job.
func (s *MemoryStore) Cursor(job string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, ok := s.cursors[job]
	return cursor, ok, nil
}

// ClearCursor removes the cursor for job.
func (s *MemoryStore) ClearCursor(job string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, job)
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func acquireLock(lockMap map[string]time.Time, key string, ttl time.Duration, now time.Time) bool {
	expiry, exists := lockMap[key]
	if exists && now.Before(expiry) {
		return false
	}
	lockMap[key] = now.Add(ttl)
	return true
}
