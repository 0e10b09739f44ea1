package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qs3c/promo_credit_server/internal/pkg/logger"
)

// 仅当值仍为自己的 token 时才删除，避免误删他人续上的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的分布式锁，用于多实例部署。
// 锁不续期，ttl 即单次加锁事务的耗时上限，超时后锁可能被其他实例获得。
type RedisLocker struct {
	client        *redis.Client
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl, retryInterval time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retryInterval <= 0 {
		retryInterval = 25 * time.Millisecond
	}
	return &RedisLocker{
		client:        client,
		prefix:        "lock:",
		ttl:           ttl,
		retryInterval: retryInterval,
		logger:        logger.OrNop(log),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}

	acquiredAt := time.Now()
	released := false
	return func() {
		if released {
			return
		}
		released = true
		l.release(redisKey, token, time.Since(acquiredAt))
	}, nil
}

func (l *RedisLocker) release(redisKey, token string, held time.Duration) {
	// 使用独立 context，请求已取消时也要释放
	releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	deleted, err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Int64()
	if err != nil {
		l.logger.Error("failed to release lock",
			zap.String("key", redisKey), zap.Duration("held", held), zap.Error(err))
		return
	}
	if deleted == 0 {
		// 持有时间超过 ttl，锁已过期或被其他实例获得
		l.logger.Warn("lock expired before release",
			zap.String("key", redisKey), zap.Duration("held", held), zap.Duration("ttl", l.ttl))
	}
}
