package utils

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLocker hands out short-lived exclusive keys used to keep two workers
// from settling the same webhook event or refunding the same ticket at once.
type RedisLocker struct {
	client   redis.Cmdable
	newToken func() (string, error)
}

func NewRedisLocker(client redis.Cmdable) *RedisLocker {
	return &RedisLocker{
		client:   client,
		newToken: func() (string, error) { return GenerateCode(8) },
	}
}

// Acquire takes key for ttl. The release func only deletes the key while this
// caller still owns it.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	token, err := l.newToken()
	if err != nil {
		return nil, false, err
	}

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return func(context.Context) {}, false, nil
	}

	release := func(ctx context.Context) {
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			slog.Error("l.client.Eval()", "key", key, "error", err)
		}
	}
	return release, true, nil
}
