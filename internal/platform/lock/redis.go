package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only while it still holds our token, so a
// holder whose TTL lapsed cannot free a lock someone else now owns.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	keyPrefix  = "carebook:lock:"
	retryFloor = 10 * time.Millisecond
	retryCeil  = 200 * time.Millisecond
)

// RedisLocker holds keys with SET NX PX so every API instance sharing the
// Redis server sees the same lock.
type RedisLocker struct {
	client *redis.Client
	opts   Options
	logger zerolog.Logger
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisLocker(client *redis.Client, opts Options, logger zerolog.Logger) *RedisLocker {
	return &RedisLocker{client: client, opts: opts.withDefaults(), logger: logger}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	waitCtx, cancel := waitContext(ctx, l.opts.Wait)
	defer cancel()

	backoff := retryFloor
	for {
		ok, err := l.client.SetNX(waitCtx, redisKey, token, l.opts.TTL).Result()
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, acquireErr(ctx, waitCtx)
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-waitCtx.Done():
			timer.Stop()
			return nil, acquireErr(ctx, waitCtx)
		}
		if backoff *= 2; backoff > retryCeil {
			backoff = retryCeil
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled; release must still run.
			relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer relCancel()
			if err := releaseScript.Run(relCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Error().Err(err).Str("lock_key", key).Msg("release lock")
			}
		})
	}, nil
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
