package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"klymo_server/models"

	"github.com/redis/go-redis/v9"
)

// RedisLimitStore keeps a usage:<id> hash {date, count} and a cooldown:<id>
// string holding the expiry in epoch milliseconds, expired by Redis itself.
type RedisLimitStore struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewRedisLimitStore(rdb redis.UniversalClient, now func() time.Time) *RedisLimitStore {
	if now == nil {
		now = time.Now
	}
	return &RedisLimitStore{rdb: rdb, now: now}
}

func usageKey(identity string) string    { return "usage:" + identity }
func cooldownKey(identity string) string { return "cooldown:" + identity }

var incrementUsageScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'date') ~= ARGV[1] then
  redis.call('HSET', KEYS[1], 'date', ARGV[1], 'count', 0)
end
local n = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return n
`)

func (s *RedisLimitStore) Usage(ctx context.Context, identity, day string) (int, error) {
	vals, err := s.rdb.HMGet(ctx, usageKey(identity), "date", "count").Result()
	if err != nil {
		return 0, fmt.Errorf("read usage for %s: %w", identity, err)
	}
	date, _ := vals[0].(string)
	if date != day {
		return 0, nil
	}
	count, _ := vals[1].(string)
	n, _ := strconv.Atoi(count)
	return n, nil
}

func (s *RedisLimitStore) IncrementUsage(ctx context.Context, identity, day string) (int, error) {
	n, err := incrementUsageScript.Run(ctx, s.rdb, []string{usageKey(identity)},
		day, usageRetention.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("increment usage for %s: %w", identity, err)
	}
	return n, nil
}

func (s *RedisLimitStore) Cooldown(ctx context.Context, identity string) (time.Time, bool, error) {
	ms, err := s.rdb.Get(ctx, cooldownKey(identity)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read cooldown for %s: %w", identity, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *RedisLimitStore) SetCooldown(ctx context.Context, mark models.CooldownMark) error {
	ttl := mark.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.rdb.Set(ctx, cooldownKey(mark.Identity), mark.ExpiresAt.UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("set cooldown for %s: %w", mark.Identity, err)
	}
	return nil
}
