package services

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"klymo_server/models"
)

// WaitingPool is the shared set of queued identities, partitioned by each
// identity's own verified attribute.
//
// Every method is a single-key atomic operation against the backing store.
// PeekOldest is a snapshot; callers act on it only through Claim/Commit,
// which re-check the entry.
type WaitingPool interface {
	// Enqueue inserts entry unless the identity is queued in any partition.
	Enqueue(ctx context.Context, entry models.QueueEntry) error
	// Dequeue removes the identity from partition, ErrNotFound if absent.
	Dequeue(ctx context.Context, identity, partition string) error
	// PeekOldest returns up to limit entries of partition, oldest first.
	PeekOldest(ctx context.Context, partition string, limit int) ([]models.QueueEntry, error)
	// Claim marks the entry as reserved by claimID for lease. ErrNotFound if
	// absent, ErrClaimed if another live claim holds it.
	Claim(ctx context.Context, identity, partition, claimID string, lease time.Duration) error
	// Release drops the claim if claimID still holds it.
	Release(ctx context.Context, identity, claimID string) error
	// Commit removes the entry if claimID still holds it, else ErrNotFound.
	Commit(ctx context.Context, identity, claimID string) error
	// Restore re-inserts a committed entry with its original ordering.
	Restore(ctx context.Context, entry models.QueueEntry) error
}

// entrySequence breaks EnqueuedAt ties by insertion order within a process.
var entrySequence atomic.Uint64

// NewQueueEntry stamps a fresh entry with the current time and sequence.
func NewQueueEntry(identity, partition, wanted string, now time.Time) models.QueueEntry {
	seq := entrySequence.Add(1)
	return models.QueueEntry{
		Identity:        identity,
		PartitionKey:    partition,
		WantedAttribute: wanted,
		EnqueuedAt:      now,
		Seq:             seq,
		OrderKey:        models.BuildOrderKey(now, seq),
	}
}

type memoryEntry struct {
	entry        models.QueueEntry
	claimedBy    string
	claimExpires time.Time
}

// MemoryPool is a process-local WaitingPool. One mutex guards the whole map,
// which gives the same per-key atomicity the shared backends provide.
type MemoryPool struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryPool creates an empty pool. A nil clock means time.Now.
func NewMemoryPool(now func() time.Time) *MemoryPool {
	if now == nil {
		now = time.Now
	}
	return &MemoryPool{entries: make(map[string]*memoryEntry), now: now}
}

func (p *MemoryPool) Enqueue(_ context.Context, entry models.QueueEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[entry.Identity]; exists {
		return ErrAlreadyQueued
	}
	p.entries[entry.Identity] = &memoryEntry{entry: entry}
	return nil
}

func (p *MemoryPool) Dequeue(_ context.Context, identity, partition string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, exists := p.entries[identity]
	if !exists || e.entry.PartitionKey != partition {
		return ErrNotFound
	}
	delete(p.entries, identity)
	return nil
}

func (p *MemoryPool) PeekOldest(_ context.Context, partition string, limit int) ([]models.QueueEntry, error) {
	p.mu.Lock()
	out := make([]models.QueueEntry, 0, len(p.entries))
	for _, e := range p.entries {
		if e.entry.PartitionKey == partition {
			out = append(out, e.entry)
		}
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *MemoryPool) Claim(_ context.Context, identity, partition, claimID string, lease time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, exists := p.entries[identity]
	if !exists || e.entry.PartitionKey != partition {
		return ErrNotFound
	}
	now := p.now()
	if e.claimedBy != "" && e.claimedBy != claimID && now.Before(e.claimExpires) {
		return ErrClaimed
	}
	e.claimedBy = claimID
	e.claimExpires = now.Add(lease)
	return nil
}

func (p *MemoryPool) Release(_ context.Context, identity, claimID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, exists := p.entries[identity]; exists && e.claimedBy == claimID {
		e.claimedBy = ""
		e.claimExpires = time.Time{}
	}
	return nil
}

func (p *MemoryPool) Commit(_ context.Context, identity, claimID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, exists := p.entries[identity]
	if !exists || e.claimedBy != claimID {
		return ErrNotFound
	}
	delete(p.entries, identity)
	return nil
}

func (p *MemoryPool) Restore(ctx context.Context, entry models.QueueEntry) error {
	return p.Enqueue(ctx, entry)
}

// Len returns the number of queued identities.
func (p *MemoryPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Contains reports whether identity is queued, and in which partition.
func (p *MemoryPool) Contains(identity string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[identity]
	if !ok {
		return "", false
	}
	return e.entry.PartitionKey, true
}
