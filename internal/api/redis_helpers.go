package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// hourlyRateKey 按 UTC 小时分桶，例如 rate:comment:10.0.0.1:2024010215。
func hourlyRateKey(scope, subject string, now time.Time) string {
	return "rate:" + scope + ":" + subject + ":" + now.UTC().Format("2006010215")
}

// overHourlyLimit 对当前小时的计数加一并判断是否超过 limit。
// Redis 不可用时放行；limit 非正数表示不限。
func overHourlyLimit(ctx context.Context, client redisRateCounter, scope, subject string, limit int) bool {
	if client == nil || limit <= 0 {
		return false
	}
	count, err := incrWithTTL(ctx, client, hourlyRateKey(scope, subject, time.Now()), time.Hour)
	if err != nil {
		return false
	}
	return count > int64(limit)
}

func incrWithTTL(ctx context.Context, client redisRateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}
