package safety

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
)

const (
	redisKeyPrefix = "job_pilot:safety"
	redisKeyTTL    = 48 * time.Hour
)

type redisCounterClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Decr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisCounter keeps daily counters in redis for deployments running several
// api and worker processes. Keys expire after two days.
type RedisCounter struct {
	client redisCounterClient
	loc    *time.Location
	now    func() time.Time
}

func NewRedisCounter(client redis.UniversalClient, loc *time.Location) *RedisCounter {
	return newRedisCounter(client, loc)
}

func newRedisCounter(client redisCounterClient, loc *time.Location) *RedisCounter {
	if loc == nil {
		loc = time.Local
	}
	return &RedisCounter{client: client, loc: loc, now: time.Now}
}

func (c *RedisCounter) key(cid, kind string) string {
	return fmt.Sprintf("%s:%s:%s:%s", redisKeyPrefix, cid, kind, c.now().In(c.loc).Format(dayLayout))
}

func (c *RedisCounter) Count(ctx context.Context, kind string) (int, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return 0, err
	}
	n, err := c.client.Get(ctx, c.key(cid, kind)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "reading safety counter", err)
	}
	return n, nil
}

// Reserve increments first and rolls back when the ceiling was crossed. The
// stored value can overshoot only for the instant between INCR and DECR.
func (c *RedisCounter) Reserve(ctx context.Context, kind string, ceiling int) (int, error) {
	cid, err := candidate.FromContext(ctx)
	if err != nil {
		return 0, err
	}
	key := c.key(cid, kind)

	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "incrementing safety counter", err)
	}
	if n == 1 {
		_ = c.client.Expire(ctx, key, redisKeyTTL).Err()
	}
	if n > int64(ceiling) {
		if err := c.client.Decr(ctx, key).Err(); err != nil {
			return 0, apperr.Wrap(apperr.KindInternal, "rolling back safety counter", err)
		}
		return ceiling, limitError(kind, ceiling)
	}
	return int(n), nil
}
