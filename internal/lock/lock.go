package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"epochsync/internal/storage/postgres"
)

// ErrLocked means another run holds the key.
var ErrLocked = errors.New("lock held by another run")

// Locker guards a job against overlapping runs.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// NopLocker always grants the lock.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// RedisLocker leases keys with SET NX and a TTL. Only the owner token can release.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisLocker(client redis.Cmdable, prefix string, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	full := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", full, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", full, ErrLocked)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(ctx, unlockScript, []string{full}, token).Err(); err != nil {
			l.logger.Warn("release lock", zap.String("key", full), zap.Error(err))
		}
	}, nil
}

// PostgresLocker uses session advisory locks.
type PostgresLocker struct {
	store  *postgres.Store
	logger *zap.Logger
}

func NewPostgresLocker(store *postgres.Store, logger *zap.Logger) *PostgresLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresLocker{store: store, logger: logger}
}

func (l *PostgresLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lease, err := l.store.TryLock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if lease == nil {
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}
	return func() {
		if err := lease.Unlock(context.Background()); err != nil {
			l.logger.Warn("release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
