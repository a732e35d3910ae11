package checkpoint

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cam3ron2/org-merge-stats/internal/config"
	"github.com/cam3ron2/org-merge-stats/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is a checkpoint backend.
type Store interface {
	AcquireRunLock(job string, ttl time.Duration, now time.Time) bool
	ReleaseRunLock(job string) error
	SetCursor(job string, orgID int64) error
	Cursor(job string) (int64, bool, error)
	ClearCursor(job string) error
	Ping(ctx context.Context) error
	Close() error
}

// New builds the configured backend. The database backend needs db; an
// unreachable Redis falls back to it with a warning.
func New(cfg config.CheckpointConfig, db *storage.DB, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.CheckpointMemory:
		return NewMemoryStore()
	case config.CheckpointRedis:
		redisStore, err := newRedisStoreFromConfig(cfg)
		if err == nil {
			return redisStore
		}
		logger.Warn("failed to initialize redis checkpoint store; falling back to the database", zap.Error(err))
	}

	if db == nil {
		logger.Warn("no database for checkpoints; cursors will not survive a restart")
		return NewMemoryStore()
	}
	return NewSQLStore(db)
}

// newOwnerToken identifies the process holding a run lock.
func newOwnerToken() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	var suffix [6]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return fmt.Sprintf("%s/%d/%d", host, os.Getpid(), time.Now().UnixNano())
	}
	return fmt.Sprintf("%s/%d/%s", host, os.Getpid(), hex.EncodeToString(suffix[:]))
}

func newRedisStoreFromConfig(cfg config.CheckpointConfig) (*RedisStore, error) {
	var redisClient redis.UniversalClient
	if strings.EqualFold(cfg.RedisMode, "sentinel") {
		redisClient = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.RedisMasterSet,
			SentinelAddrs: cfg.RedisSentinelAddrs,
			Password:      cfg.RedisPassword,
			DB:            cfg.RedisDB,
		})
	} else {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisStore(redisClient, RedisStoreConfig{
		Namespace: "oms",
		CursorTTL: 7 * 24 * time.Hour,
	}), nil
}
