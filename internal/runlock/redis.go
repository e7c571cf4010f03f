package runlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/config"
	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/logging"
)

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares the run lock between replicas through Redis
type RedisLocker struct {
	client *redis.Client
	logger *logging.Logger
}

// NewRedisClient connects to the configured Redis backend
func NewRedisClient(cfg config.RunLockConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewRedisLocker creates a locker on client
func NewRedisLocker(client *redis.Client, logger *logging.Logger) *RedisLocker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RedisLocker{client: client, logger: logger}
}

// Acquire sets key with SET NX PX and a random token
func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, apperrors.NewErrorWithCause(apperrors.ErrInternalServer, "failed to acquire run lock", err).
			WithContext("lock", key)
	}
	if !ok {
		return nil, runInProgress(key)
	}

	return func() {
		// the request context may already be done
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			r.logger.Structured(logging.WARN, "Failed to release run lock", zap.String("lock", key), zap.Error(err))
		}
	}, nil
}

// Ping verifies Redis connectivity
func (r *RedisLocker) Ping(ctx context.Context) error {
	if r == nil || r.client == nil {
		return errors.New("redis client not configured")
	}
	return r.client.Ping(ctx).Err()
}

// Close closes the client
func (r *RedisLocker) Close() {
	if r != nil && r.client != nil {
		_ = r.client.Close()
	}
}
