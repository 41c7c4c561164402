package services

import (
	"context"
	"testing"
	"time"

	"klymo_server/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identities(entries []models.QueueEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Identity
	}
	return out
}

func TestMemoryPool_EnqueueRejectsSecondPartition(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	pool := NewMemoryPool(clock.Now)

	require.NoError(t, pool.Enqueue(ctx, queueEntry(clock, "a", models.AttributeMale, models.PreferenceAny)))
	err := pool.Enqueue(ctx, queueEntry(clock, "a", models.AttributeFemale, models.PreferenceAny))
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	partition, ok := pool.Contains("a")
	assert.True(t, ok)
	assert.Equal(t, models.AttributeMale, partition)
	assert.Equal(t, 1, pool.Len())
}

func TestMemoryPool_PeekOldestOrder(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	pool := NewMemoryPool(clock.Now)

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, pool.Enqueue(ctx, queueEntry(clock, id, models.AttributeFemale, models.PreferenceAny)))
	}
	require.NoError(t, pool.Enqueue(ctx, queueEntry(clock, "m", models.AttributeMale, models.PreferenceAny)))

	entries, err := pool.PeekOldest(ctx, models.AttributeFemale, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, identities(entries))

	entries, err = pool.PeekOldest(ctx, models.AttributeFemale, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, identities(entries))
}

func TestMemoryPool_SameInstantTieBreak(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	pool := NewMemoryPool(clock.Now)

	first := NewQueueEntry("z", models.AttributeMale, models.PreferenceAny, clock.Now())
	second := NewQueueEntry("y", models.AttributeMale, models.PreferenceAny, clock.Now())
	require.NoError(t, pool.Enqueue(ctx, second))
	require.NoError(t, pool.Enqueue(ctx, first))

	entries, err := pool.PeekOldest(ctx, models.AttributeMale, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "y"}, identities(entries))
	assert.Less(t, first.OrderKey, second.OrderKey)
}

func TestMemoryPool_DequeueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	pool := NewMemoryPool(clock.Now)

	require.NoError(t, pool.Enqueue(ctx, queueEntry(clock, "a", models.AttributeMale, models.PreferenceAny)))
	assert.ErrorIs(t, pool.Dequeue(ctx, "a", models.AttributeFemale), ErrNotFound)
	require.NoError(t, pool.Dequeue(ctx, "a", models.AttributeMale))
	assert.ErrorIs(t, pool.Dequeue(ctx, "a", models.AttributeMale), ErrNotFound)
}

func TestMemoryPool_ClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	pool := NewMemoryPool(clock.Now)
	require.NoError(t, pool.Enqueue(ctx, queueEntry(clock, "a", models.AttributeMale, models.PreferenceAny)))

	assert.ErrorIs(t, pool.Claim(ctx, "ghost", models.AttributeMale, "c1", time.Second), ErrNotFound)
	assert.ErrorIs(t, pool.Claim(ctx, "a", models.AttributeFemale, "c1", time.Second), ErrNotFound)

	require.NoError(t, pool.Claim(ctx, "a", models.AttributeMale, "c1", time.Second))
	require.NoError(t, pool.Claim(ctx, "a", models.AttributeMale, "c1", time.Second), "re-claim by holder")
	assert.ErrorIs(t, pool.Claim(ctx, "a", models.AttributeMale, "c2", time.Second), ErrClaimed)
	assert.ErrorIs(t, pool.Commit(ctx, "a", "c2"), ErrNotFound)

	require.NoError(t, pool.Release(ctx, "a", "c2"), "release by non-holder is a no-op")
	assert.ErrorIs(t, pool.Claim(ctx, "a", models.AttributeMale, "c2", time.Second), ErrClaimed)

	require.NoError(t, pool.Release(ctx, "a", "c1"))
	require.NoError(t, pool.Claim(ctx, "a", models.AttributeMale, "c2", time.Second))
	require.NoError(t, pool.Commit(ctx, "a", "c2"))
	assert.Equal(t, 0, pool.Len())
	assert.ErrorIs(t, pool.Commit(ctx, "a", "c2"), ErrNotFound)
}

func TestMemoryPool_ExpiredLeaseCanBeTaken(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	pool := NewMemoryPool(clock.Now)
	require.NoError(t, pool.Enqueue(ctx, queueEntry(clock, "a", models.AttributeMale, models.PreferenceAny)))

	require.NoError(t, pool.Claim(ctx, "a", models.AttributeMale, "c1", time.Second))
	clock.Advance(2 * time.Second)
	require.NoError(t, pool.Claim(ctx, "a", models.AttributeMale, "c2", time.Second))
	assert.ErrorIs(t, pool.Commit(ctx, "a", "c1"), ErrNotFound)
}

func TestMemoryPool_RestoreKeepsPosition(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	pool := NewMemoryPool(clock.Now)

	old := queueEntry(clock, "old", models.AttributeMale, models.PreferenceAny)
	require.NoError(t, pool.Enqueue(ctx, old))
	require.NoError(t, pool.Enqueue(ctx, queueEntry(clock, "new", models.AttributeMale, models.PreferenceAny)))

	require.NoError(t, pool.Claim(ctx, "old", models.AttributeMale, "c", time.Second))
	require.NoError(t, pool.Commit(ctx, "old", "c"))
	require.NoError(t, pool.Restore(ctx, old))
	assert.ErrorIs(t, pool.Restore(ctx, old), ErrAlreadyQueued)

	entries, err := pool.PeekOldest(ctx, models.AttributeMale, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "new"}, identities(entries))
}
