package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cam3ron2/org-merge-stats/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// releaseLockScript deletes the lock only while it still holds our token.
const releaseLockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type redisCommander interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisStoreConfig configures the Redis-backed checkpoint store.
type RedisStoreConfig struct {
	Namespace string
	// CursorTTL expires stale cursors; zero keeps them until cleared.
	CursorTTL time.Duration
}

// RedisStore keeps run locks and cursors in Redis so separate processes share them.
type RedisStore struct {
	client    redisCommander
	closeFn   func() error
	namespace string
	cursorTTL time.Duration
	owner     string
}

// NewRedisStore creates a Redis-backed checkpoint store.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	closeFn := func() error { return nil }
	if client != nil {
		closeFn = client.Close
	}
	return newRedisStoreFromCommander(client, closeFn, cfg)
}

func newRedisStoreFromCommander(client redisCommander, closeFn func() error, cfg RedisStoreConfig) *RedisStore {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = telemetry.DefaultServiceName
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}

	return &RedisStore{
		client:    client,
		closeFn:   closeFn,
		namespace: namespace,
		cursorTTL: cfg.CursorTTL,
		owner:     newOwnerToken(),
	}
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis store is not initialized")
	}
	return s.client.Ping(ctx).Err()
}

// AcquireRunLock takes the run lock for job with SET NX and a ttl.
func (s *RedisStore) AcquireRunLock(job string, ttl time.Duration, _ time.Time) bool {
	if s == nil || s.client == nil {
		return false
	}
	if ttl <= 0 {
		return true
	}

	ctx, span := s.startSpan("redis.acquire_run_lock", job)
	acquired, err := s.client.SetNX(ctx, s.lockKey(job), s.owner, ttl).Result()
	telemetry.EndSpan(span, err)
	if err != nil {
		return false
	}
	return acquired
}

// ReleaseRunLock deletes the run lock for job if this store still owns it.
func (s *RedisStore) ReleaseRunLock(job string) (err error) {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis store is not initialized")
	}
	ctx, span := s.startSpan("redis.release_run_lock", job)
	defer func() { telemetry.EndSpan(span, err) }()

	if err := s.client.Eval(ctx, releaseLockScript, []string{s.lockKey(job)}, s.owner).Err(); err != nil {
		return fmt.Errorf("release run lock %s: %w", job, err)
	}
	return nil
}

// SetCursor records the last organization id processed by job.
func (s *RedisStore) SetCursor(job string, orgID int64) (err error) {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis store is not initialized")
	}
	ctx, span := s.startSpan("redis.set_cursor", job)
	defer func() { telemetry.EndSpan(span, err) }()

	if err := s.client.Set(ctx, s.cursorKey(job), strconv.FormatInt(orgID, 10), s.cursorTTL).Err(); err != nil {
		return fmt.Errorf("set cursor %s: %w", job, err)
	}
	return nil
}

// Cursor returns the last organization id recorded for job.
func (s *RedisStore) Cursor(job string) (cursor int64, found bool, err error) {
	if s == nil || s.client == nil {
		return 0, false, fmt.Errorf("redis store is not initialized")
	}
	ctx, span := s.startSpan("redis.get_cursor", job)
	defer func() { telemetry.EndSpan(span, err) }()

	raw, err := s.client.Get(ctx, s.cursorKey(job)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get cursor %s: %w", job, err)
	}
	cursor, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse cursor %s: %w", job, err)
	}
	return cursor, true, nil
}

// ClearCursor removes the cursor for job.
func (s *RedisStore) ClearCursor(job string) (err error) {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis store is not initialized")
	}
	ctx, span := s.startSpan("redis.clear_cursor", job)
	defer func() { telemetry.EndSpan(span, err) }()

	if err := s.client.Del(ctx, s.cursorKey(job)).Err(); err != nil {
		return fmt.Errorf("clear cursor %s: %w", job, err)
	}
	return nil
}

func (s *RedisStore) startSpan(name, job string) (context.Context, trace.Span) {
	return telemetry.StartDependencySpan(context.Background(), "checkpoint", name,
		attribute.String("db.system", "redis"),
		attribute.String("job", job),
	)
}

func (s *RedisStore) prefixed(suffix string) string {
	return s.namespace + ":" + suffix
}

func (s *RedisStore) lockKey(job string) string {
	return s.prefixed("lock:run:" + job)
}

func (s *RedisStore) cursorKey(job string) string {
	return s.prefixed("cursor:" + job)
}
