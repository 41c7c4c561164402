package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"klymo_server/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestMatchEngine(t *testing.T) {
	suite.Run(t, new(MatchEngineTestSuite))
}

type MatchEngineTestSuite struct {
	suite.Suite

	ctx    context.Context
	clock  *fakeClock
	pool   *MemoryPool
	engine *MatchEngine
}

func (ts *MatchEngineTestSuite) SetupTest() {
	ts.ctx = context.Background()
	ts.clock = newFakeClock()
	ts.pool = NewMemoryPool(ts.clock.Now)
	ts.engine = NewMatchEngine(ts.pool, 20, time.Second)
}

func (ts *MatchEngineTestSuite) enqueue(id, self, wanted string) Requester {
	require.NoError(ts.T(), ts.pool.Enqueue(ts.ctx, queueEntry(ts.clock, id, self, wanted)))
	return Requester{Identity: id, SelfAttribute: self, WantedAttribute: wanted}
}

func (ts *MatchEngineTestSuite) TestTargetPartitions() {
	assert.Equal(ts.T(), []string{"male", "female", "other"}, TargetPartitions(models.PreferenceAny))
	assert.Equal(ts.T(), []string{"female"}, TargetPartitions(models.AttributeFemale))
}

// A (female, wants male) waits; B (male, wants female) arrives and gets A.
func (ts *MatchEngineTestSuite) TestMutualPreferencePairs() {
	ts.enqueue("A", models.AttributeFemale, models.AttributeMale)
	b := ts.enqueue("B", models.AttributeMale, models.AttributeFemale)

	pairing, ok, err := ts.engine.AttemptMatch(ts.ctx, b)
	require.NoError(ts.T(), err)
	require.True(ts.T(), ok)
	assert.Equal(ts.T(), models.PairingAttempt{Requester: "B", Candidate: "A", TargetPartition: "female"}, pairing)
	assert.Equal(ts.T(), 0, ts.pool.Len())
}

// C (male, wants female) finds only D (male): no match, C stays queued.
func (ts *MatchEngineTestSuite) TestNoEligibleCandidate() {
	ts.enqueue("D", models.AttributeMale, models.PreferenceAny)
	c := ts.enqueue("C", models.AttributeMale, models.AttributeFemale)

	_, ok, err := ts.engine.AttemptMatch(ts.ctx, c)
	require.NoError(ts.T(), err)
	assert.False(ts.T(), ok)
	assert.Equal(ts.T(), 2, ts.pool.Len())

	// Claims were released: C is still claimable by someone else.
	require.NoError(ts.T(), ts.pool.Claim(ts.ctx, "C", models.AttributeMale, "outsider", time.Second))
}

func (ts *MatchEngineTestSuite) TestCandidateMustAcceptRequester() {
	ts.enqueue("F", models.AttributeFemale, models.AttributeFemale)
	m := ts.enqueue("M", models.AttributeMale, models.AttributeFemale)

	_, ok, err := ts.engine.AttemptMatch(ts.ctx, m)
	require.NoError(ts.T(), err)
	assert.False(ts.T(), ok)
}

func (ts *MatchEngineTestSuite) TestNeverPairsWithSelf() {
	a := ts.enqueue("A", models.AttributeMale, models.PreferenceAny)

	_, ok, err := ts.engine.AttemptMatch(ts.ctx, a)
	require.NoError(ts.T(), err)
	assert.False(ts.T(), ok)
	assert.Equal(ts.T(), 1, ts.pool.Len())
}

func (ts *MatchEngineTestSuite) TestOldestCandidateFirst() {
	ts.enqueue("first", models.AttributeFemale, models.PreferenceAny)
	ts.enqueue("second", models.AttributeFemale, models.PreferenceAny)
	r := ts.enqueue("req", models.AttributeMale, models.AttributeFemale)

	pairing, ok, err := ts.engine.AttemptMatch(ts.ctx, r)
	require.NoError(ts.T(), err)
	require.True(ts.T(), ok)
	assert.Equal(ts.T(), "first", pairing.Candidate)

	_, queued := ts.pool.Contains("second")
	assert.True(ts.T(), queued)
}

func (ts *MatchEngineTestSuite) TestWildcardVisitsPartitionsInOrder() {
	ts.enqueue("o", models.AttributeOther, models.PreferenceAny)
	ts.enqueue("f", models.AttributeFemale, models.PreferenceAny)
	r := ts.enqueue("req", models.AttributeOther, models.PreferenceAny)

	pairing, ok, err := ts.engine.AttemptMatch(ts.ctx, r)
	require.NoError(ts.T(), err)
	require.True(ts.T(), ok)
	assert.Equal(ts.T(), "f", pairing.Candidate, "female is scanned before other")
	assert.Equal(ts.T(), models.AttributeFemale, pairing.TargetPartition)
}

func (ts *MatchEngineTestSuite) TestSkipsClaimedCandidate() {
	ts.enqueue("busy", models.AttributeFemale, models.PreferenceAny)
	ts.enqueue("free", models.AttributeFemale, models.PreferenceAny)
	r := ts.enqueue("req", models.AttributeMale, models.PreferenceAny)
	require.NoError(ts.T(), ts.pool.Claim(ts.ctx, "busy", models.AttributeFemale, "someone-else", time.Minute))

	pairing, ok, err := ts.engine.AttemptMatch(ts.ctx, r)
	require.NoError(ts.T(), err)
	require.True(ts.T(), ok)
	assert.Equal(ts.T(), "free", pairing.Candidate)
}

func (ts *MatchEngineTestSuite) TestRequesterAlreadyTaken() {
	ts.enqueue("cand", models.AttributeFemale, models.PreferenceAny)
	r := ts.enqueue("req", models.AttributeMale, models.PreferenceAny)
	require.NoError(ts.T(), ts.pool.Claim(ts.ctx, "req", models.AttributeMale, "other-attempt", time.Minute))

	_, ok, err := ts.engine.AttemptMatch(ts.ctx, r)
	require.NoError(ts.T(), err)
	assert.False(ts.T(), ok)
	assert.Equal(ts.T(), 2, ts.pool.Len())
}

// Two requesters that target each other at the same time: exactly one
// pairing is committed.
func (ts *MatchEngineTestSuite) TestSimultaneousMutualArrival() {
	x := ts.enqueue("X", models.AttributeMale, models.AttributeFemale)
	y := ts.enqueue("Y", models.AttributeFemale, models.AttributeMale)

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i, req := range []Requester{x, y} {
		wg.Add(1)
		go func(i int, req Requester) {
			defer wg.Done()
			_, ok, err := ts.engine.AttemptMatch(ts.ctx, req)
			assert.NoError(ts.T(), err)
			results[i] = ok
		}(i, req)
	}
	wg.Wait()

	matched := 0
	for _, ok := range results {
		if ok {
			matched++
		}
	}
	assert.Equal(ts.T(), 1, matched)
	assert.Equal(ts.T(), 0, ts.pool.Len())
}

func (ts *MatchEngineTestSuite) TestConcurrentAttemptsNeverDoubleBook() {
	var reqs []Requester
	for i := 0; i < 40; i++ {
		self, wanted := models.AttributeMale, models.AttributeFemale
		if i%2 == 1 {
			self, wanted = models.AttributeFemale, models.PreferenceAny
		}
		reqs = append(reqs, ts.enqueue(fmt.Sprintf("p%02d", i), self, wanted))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for _, req := range reqs {
		wg.Add(1)
		go func(req Requester) {
			defer wg.Done()
			pairing, ok, err := ts.engine.AttemptMatch(ts.ctx, req)
			assert.NoError(ts.T(), err)
			if !ok {
				return
			}
			mu.Lock()
			seen[pairing.Requester]++
			seen[pairing.Candidate]++
			mu.Unlock()
		}(req)
	}
	wg.Wait()

	for id, n := range seen {
		assert.Equal(ts.T(), 1, n, "%s paired %d times", id, n)
		_, queued := ts.pool.Contains(id)
		assert.False(ts.T(), queued, "%s paired but still queued", id)
	}
	assert.Equal(ts.T(), 40, len(seen)+ts.pool.Len())
}

// failingCommitPool fails the commit of one identity after the others went
// through.
type failingCommitPool struct {
	*MemoryPool
	failFor string
	err     error
}

func (p *failingCommitPool) Commit(ctx context.Context, identity, claimID string) error {
	if identity == p.failFor {
		return p.err
	}
	return p.MemoryPool.Commit(ctx, identity, claimID)
}

func TestMatchEngine_RequesterCommitFailureRestoresCandidate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	memory := NewMemoryPool(clock.Now)
	cand := queueEntry(clock, "cand", models.AttributeFemale, models.PreferenceAny)
	other := queueEntry(clock, "later", models.AttributeFemale, models.PreferenceAny)
	req := queueEntry(clock, "req", models.AttributeMale, models.PreferenceAny)
	for _, e := range []models.QueueEntry{cand, other, req} {
		require.NoError(t, memory.Enqueue(ctx, e))
	}

	for _, failure := range []error{ErrNotFound, errors.New("store down")} {
		pool := &failingCommitPool{MemoryPool: memory, failFor: "req", err: failure}
		engine := NewMatchEngine(pool, 20, time.Second)

		_, ok, err := engine.AttemptMatch(ctx, Requester{Identity: "req", SelfAttribute: models.AttributeMale, WantedAttribute: models.PreferenceAny})
		assert.False(t, ok)
		if errors.Is(failure, ErrNotFound) {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, failure)
		}

		entries, err := memory.PeekOldest(ctx, models.AttributeFemale, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"cand", "later"}, identities(entries), "candidate back at its old position")
		clock.Advance(2 * time.Second)
	}
}

func TestMatchEngine_StoreFailureOnCandidateCommitReleasesClaims(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	memory := NewMemoryPool(clock.Now)
	require.NoError(t, memory.Enqueue(ctx, queueEntry(clock, "cand", models.AttributeFemale, models.PreferenceAny)))
	require.NoError(t, memory.Enqueue(ctx, queueEntry(clock, "req", models.AttributeMale, models.PreferenceAny)))

	boom := errors.New("store down")
	engine := NewMatchEngine(&failingCommitPool{MemoryPool: memory, failFor: "cand", err: boom}, 20, time.Minute)

	_, ok, err := engine.AttemptMatch(ctx, Requester{Identity: "req", SelfAttribute: models.AttributeMale, WantedAttribute: models.PreferenceAny})
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, memory.Claim(ctx, "cand", models.AttributeFemale, "outsider", time.Second))
	assert.NoError(t, memory.Claim(ctx, "req", models.AttributeMale, "outsider", time.Second))
}
