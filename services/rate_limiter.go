package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"klymo_server/models"

	log "github.com/sirupsen/logrus"
)

// Verdict is the outcome of a queue-entry gate check.
type Verdict int

const (
	Allowed Verdict = iota
	DailyLimitExceeded
	OnCooldown
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "Allowed"
	case DailyLimitExceeded:
		return "DailyLimitExceeded"
	case OnCooldown:
		return "OnCooldown"
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// Err maps a refusal to its sentinel error; Allowed maps to nil.
func (v Verdict) Err() error {
	switch v {
	case DailyLimitExceeded:
		return ErrDailyLimitExceeded
	case OnCooldown:
		return ErrOnCooldown
	}
	return nil
}

// LimitStore persists usage counters and cooldown marks. Counters are keyed
// by identity and carry the UTC day they belong to; a stored day other than
// `day` reads as zero.
type LimitStore interface {
	Usage(ctx context.Context, identity, day string) (int, error)
	IncrementUsage(ctx context.Context, identity, day string) (int, error)
	Cooldown(ctx context.Context, identity string) (time.Time, bool, error)
	SetCooldown(ctx context.Context, mark models.CooldownMark) error
}

// RateLimiter gates queue entry on cooldown and a daily match quota.
type RateLimiter struct {
	Store      LimitStore
	DailyLimit int
	Cooldown   time.Duration
	now        func() time.Time
}

func NewRateLimiter(store LimitStore, dailyLimit int, cooldown time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{Store: store, DailyLimit: dailyLimit, Cooldown: cooldown, now: now}
}

// CheckAndReserve decides whether identity may enter the queue. Cooldown is
// checked first and no quota is consumed here; RecordMatch does that.
func (rl *RateLimiter) CheckAndReserve(ctx context.Context, identity string) (Verdict, error) {
	now := rl.now()

	until, ok, err := rl.Store.Cooldown(ctx, identity)
	if err != nil {
		return Allowed, fmt.Errorf("read cooldown for %s: %w", identity, err)
	}
	if ok && now.Before(until) {
		return OnCooldown, nil
	}

	used, err := rl.Store.Usage(ctx, identity, models.DayKey(now))
	if err != nil {
		return Allowed, fmt.Errorf("read usage for %s: %w", identity, err)
	}
	if used >= rl.DailyLimit {
		return DailyLimitExceeded, nil
	}
	return Allowed, nil
}

// RecordMatch counts one committed match against today's quota.
func (rl *RateLimiter) RecordMatch(ctx context.Context, identity string) (int, error) {
	count, err := rl.Store.IncrementUsage(ctx, identity, models.DayKey(rl.now()))
	if err != nil {
		return 0, fmt.Errorf("record match for %s: %w", identity, err)
	}
	return count, nil
}

// OnVoluntaryExit starts the post-exit cooldown.
func (rl *RateLimiter) OnVoluntaryExit(ctx context.Context, identity string) error {
	if rl.Cooldown <= 0 {
		return nil
	}
	mark := models.CooldownMark{Identity: identity, ExpiresAt: rl.now().Add(rl.Cooldown)}
	if err := rl.Store.SetCooldown(ctx, mark); err != nil {
		return fmt.Errorf("set cooldown for %s: %w", identity, err)
	}
	log.WithFields(log.Fields{"deviceId": identity, "until": mark.ExpiresAt}).Debug("⏳ Cooldown started")
	return nil
}

// MemoryLimitStore is a process-local LimitStore.
type MemoryLimitStore struct {
	mu        sync.Mutex
	usage     map[string]models.UsageCounter
	cooldowns map[string]time.Time
}

func NewMemoryLimitStore() *MemoryLimitStore {
	return &MemoryLimitStore{
		usage:     make(map[string]models.UsageCounter),
		cooldowns: make(map[string]time.Time),
	}
}

func (s *MemoryLimitStore) Usage(_ context.Context, identity, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.usage[identity]
	if !ok || c.Date != day {
		return 0, nil
	}
	return c.MatchCount, nil
}

func (s *MemoryLimitStore) IncrementUsage(_ context.Context, identity, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.usage[identity]
	if c.Date != day {
		c = models.UsageCounter{Identity: identity, Date: day}
	}
	c.MatchCount++
	s.usage[identity] = c
	return c.MatchCount, nil
}

func (s *MemoryLimitStore) Cooldown(_ context.Context, identity string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.cooldowns[identity]
	return until, ok, nil
}

func (s *MemoryLimitStore) SetCooldown(_ context.Context, mark models.CooldownMark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cooldowns[mark.Identity] = mark.ExpiresAt
	return nil
}
