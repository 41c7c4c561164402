package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"klymo_server/models"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisPool stores one hash per queued identity (pool:member:<id>) and one
// sorted set per partition (pool:queue:<partition>) used as the scan index.
// Index members all score 0 and are named "<orderKey>|<identity>", so
// lexicographic rank is pool order.
//
// Each script touches exactly one key. The hash is authoritative; the index
// may briefly lag it and ghost members are skipped on read.
type RedisPool struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewRedisPool(rdb redis.UniversalClient, now func() time.Time) *RedisPool {
	if now == nil {
		now = time.Now
	}
	return &RedisPool{rdb: rdb, now: now}
}

func memberKey(identity string) string { return "pool:member:" + identity }
func queueKey(partition string) string { return "pool:queue:" + partition }
func indexMember(orderKey, identity string) string { return orderKey + "|" + identity }

var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'partition', ARGV[1], 'wanted', ARGV[2], 'enqueuedAt', ARGV[3], 'seq', ARGV[4], 'orderKey', ARGV[5])
return 1
`)

var dequeueScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'partition') ~= ARGV[1] then
  return false
end
local order = redis.call('HGET', KEYS[1], 'orderKey')
redis.call('DEL', KEYS[1])
return order
`)

var claimScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'partition') ~= ARGV[1] then
  return 0
end
local holder = redis.call('HGET', KEYS[1], 'claimedBy')
if holder and holder ~= ARGV[2] then
  local exp = tonumber(redis.call('HGET', KEYS[1], 'claimExpires') or '0')
  if exp > tonumber(ARGV[4]) then
    return -1
  end
end
redis.call('HSET', KEYS[1], 'claimedBy', ARGV[2], 'claimExpires', ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'claimedBy') == ARGV[1] then
  redis.call('HDEL', KEYS[1], 'claimedBy', 'claimExpires')
  return 1
end
return 0
`)

var commitScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'claimedBy') ~= ARGV[1] then
  return false
end
local part = redis.call('HGET', KEYS[1], 'partition')
local order = redis.call('HGET', KEYS[1], 'orderKey')
redis.call('DEL', KEYS[1])
return {part, order}
`)

func (p *RedisPool) Enqueue(ctx context.Context, entry models.QueueEntry) error {
	inserted, err := enqueueScript.Run(ctx, p.rdb, []string{memberKey(entry.Identity)},
		entry.PartitionKey,
		entry.WantedAttribute,
		strconv.FormatInt(entry.EnqueuedAt.UnixNano(), 10),
		strconv.FormatUint(entry.Seq, 10),
		entry.OrderKey,
	).Int()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", entry.Identity, err)
	}
	if inserted == 0 {
		return ErrAlreadyQueued
	}

	member := indexMember(entry.OrderKey, entry.Identity)
	if err := p.rdb.ZAdd(ctx, queueKey(entry.PartitionKey), redis.Z{Score: 0, Member: member}).Err(); err != nil {
		// Without an index row nobody can find the entry; undo the insert.
		p.rdb.Del(ctx, memberKey(entry.Identity))
		return fmt.Errorf("index %s: %w", entry.Identity, err)
	}
	return nil
}

func (p *RedisPool) Dequeue(ctx context.Context, identity, partition string) error {
	orderKey, err := dequeueScript.Run(ctx, p.rdb, []string{memberKey(identity)}, partition).Text()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("dequeue %s: %w", identity, err)
	}
	p.unindex(ctx, partition, indexMember(orderKey, identity))
	return nil
}

func (p *RedisPool) PeekOldest(ctx context.Context, partition string, limit int) ([]models.QueueEntry, error) {
	members, err := p.rdb.ZRange(ctx, queueKey(partition), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("peek partition %s: %w", partition, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	identities := make([]string, len(members))
	_, err = p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, member := range members {
			_, identity, _ := strings.Cut(member, "|")
			identities[i] = identity
			cmds[i] = pipe.HGetAll(ctx, memberKey(identity))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("peek partition %s: %w", partition, err)
	}

	entries := make([]models.QueueEntry, 0, len(members))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 || fields["partition"] != partition || indexMember(fields["orderKey"], identities[i]) != members[i] {
			p.prune(ctx, partition, members[i], identities[i])
			continue
		}
		nanos, _ := strconv.ParseInt(fields["enqueuedAt"], 10, 64)
		seq, _ := strconv.ParseUint(fields["seq"], 10, 64)
		entries = append(entries, models.QueueEntry{
			Identity:        identities[i],
			PartitionKey:    partition,
			WantedAttribute: fields["wanted"],
			EnqueuedAt:      time.Unix(0, nanos),
			Seq:             seq,
			OrderKey:        fields["orderKey"],
		})
	}
	return entries, nil
}

func (p *RedisPool) Claim(ctx context.Context, identity, partition, claimID string, lease time.Duration) error {
	now := p.now()
	result, err := claimScript.Run(ctx, p.rdb, []string{memberKey(identity)},
		partition,
		claimID,
		strconv.FormatInt(now.Add(lease).UnixMilli(), 10),
		strconv.FormatInt(now.UnixMilli(), 10),
	).Int()
	if err != nil {
		return fmt.Errorf("claim %s: %w", identity, err)
	}
	switch result {
	case 0:
		return ErrNotFound
	case -1:
		return ErrClaimed
	}
	return nil
}

func (p *RedisPool) Release(ctx context.Context, identity, claimID string) error {
	if err := releaseScript.Run(ctx, p.rdb, []string{memberKey(identity)}, claimID).Err(); err != nil {
		return fmt.Errorf("release %s: %w", identity, err)
	}
	return nil
}

func (p *RedisPool) Commit(ctx context.Context, identity, claimID string) error {
	fields, err := commitScript.Run(ctx, p.rdb, []string{memberKey(identity)}, claimID).StringSlice()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("commit %s: %w", identity, err)
	}
	if len(fields) == 2 {
		p.unindex(ctx, fields[0], indexMember(fields[1], identity))
	}
	return nil
}

func (p *RedisPool) Restore(ctx context.Context, entry models.QueueEntry) error {
	return p.Enqueue(ctx, entry)
}

// prune drops an index row that outlived its hash. The hash is read again
// after the ZREM: a Restore that wrote it back in between gets its row back.
func (p *RedisPool) prune(ctx context.Context, partition, member, identity string) {
	p.unindex(ctx, partition, member)

	fields, err := p.rdb.HMGet(ctx, memberKey(identity), "partition", "orderKey").Result()
	if err != nil {
		log.WithError(err).WithField("deviceId", identity).Warn("⚠️ Failed to re-check pruned entry")
		return
	}
	part, _ := fields[0].(string)
	orderKey, _ := fields[1].(string)
	if part != partition || indexMember(orderKey, identity) != member {
		return
	}
	if err := p.rdb.ZAdd(ctx, queueKey(partition), redis.Z{Score: 0, Member: member}).Err(); err != nil {
		log.WithError(err).WithField("deviceId", identity).Error("❌ Failed to re-index restored entry")
	}
}

func (p *RedisPool) unindex(ctx context.Context, partition, member string) {
	if err := p.rdb.ZRem(ctx, queueKey(partition), member).Err(); err != nil {
		log.WithError(err).WithField("partition", partition).Warn("⚠️ Failed to drop index row")
	}
}
