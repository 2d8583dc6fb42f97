package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	apperrors "github.com/allisson/batchdonations/internal/errors"
)

// releaseScript deletes the lock only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisClient creates a Redis client from cfg.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisRunLocker serializes runs of the same batch across processes.
type RedisRunLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewRedisRunLocker creates a RedisRunLocker. The lock expires after ttl so a
// crashed worker never blocks a batch forever.
func NewRedisRunLocker(client redis.Cmdable, ttl time.Duration) *RedisRunLocker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisRunLocker{client: client, ttl: ttl, prefix: "batch:run-lock:"}
}

// Acquire sets the lock key if absent or returns ErrBatchAlreadyProcessing.
func (l *RedisRunLocker) Acquire(
	ctx context.Context,
	batchID uuid.UUID,
) (func(ctx context.Context) error, error) {
	key := l.prefix + batchID.String()
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, apperrors.Unavailable(err, "failed to acquire batch run lock")
	}
	if !ok {
		return nil, batchDomain.ErrBatchAlreadyProcessing
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return apperrors.Unavailable(err, "failed to release batch run lock")
		}
		return nil
	}
	return release, nil
}
