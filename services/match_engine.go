package services

import (
	"context"
	"errors"
	"time"

	"klymo_server/metrics"
	"klymo_server/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Requester is the identity a match is being sought for. Its own entry
// lives in the SelfAttribute partition.
type Requester struct {
	Identity        string
	SelfAttribute   string
	WantedAttribute string
}

// MatchEngine pairs a requester with the oldest eligible candidate.
type MatchEngine struct {
	Pool      WaitingPool
	PeekLimit int
	Lease     time.Duration
}

func NewMatchEngine(pool WaitingPool, peekLimit int, lease time.Duration) *MatchEngine {
	if peekLimit <= 0 {
		peekLimit = 20
	}
	if lease <= 0 {
		lease = 10 * time.Second
	}
	return &MatchEngine{Pool: pool, PeekLimit: peekLimit, Lease: lease}
}

// TargetPartitions lists the partitions scanned for preference, in order.
func TargetPartitions(preference string) []string {
	if preference == models.PreferenceAny {
		return models.Attributes
	}
	return []string{preference}
}

type commitOutcome int

const (
	committed commitOutcome = iota
	candidateLost
	requesterLost
)

type side struct {
	identity  string
	partition string
}

// AttemptMatch scans the target partitions and atomically removes the
// requester and the first committable candidate from the pool. It reports
// false when no pairing was committed; the requester then stays queued
// unless a concurrent attempt already took it.
func (e *MatchEngine) AttemptMatch(ctx context.Context, req Requester) (models.PairingAttempt, bool, error) {
	logger := log.WithField("deviceId", req.Identity)

	for _, partition := range TargetPartitions(req.WantedAttribute) {
		entries, err := e.Pool.PeekOldest(ctx, partition, e.PeekLimit)
		if err != nil {
			metrics.MatchAttempts.WithLabelValues("error").Inc()
			return models.PairingAttempt{}, false, err
		}

		for _, candidate := range entries {
			if candidate.Identity == req.Identity {
				continue
			}
			if !models.Accepts(candidate.WantedAttribute, req.SelfAttribute) {
				continue
			}

			outcome, err := e.commitPair(ctx, req, candidate)
			if err != nil {
				metrics.MatchAttempts.WithLabelValues("error").Inc()
				return models.PairingAttempt{}, false, err
			}
			switch outcome {
			case committed:
				metrics.MatchAttempts.WithLabelValues("matched").Inc()
				logger.WithFields(log.Fields{"peerId": candidate.Identity, "partition": partition}).Info("💘 Pair committed")
				return models.PairingAttempt{
					Requester:       req.Identity,
					Candidate:       candidate.Identity,
					TargetPartition: partition,
				}, true, nil
			case requesterLost:
				metrics.MatchAttempts.WithLabelValues("no_match").Inc()
				logger.Debug("Requester entry taken by another attempt")
				return models.PairingAttempt{}, false, nil
			}
			metrics.ClaimConflicts.Inc()
		}
	}

	metrics.MatchAttempts.WithLabelValues("no_match").Inc()
	return models.PairingAttempt{}, false, nil
}

// commitPair claims both entries in identity order, then commits the
// candidate before the requester. A failed requester commit puts the
// candidate back.
func (e *MatchEngine) commitPair(ctx context.Context, req Requester, candidate models.QueueEntry) (commitOutcome, error) {
	claimID := uuid.NewString()
	self := side{identity: req.Identity, partition: req.SelfAttribute}
	other := side{identity: candidate.Identity, partition: candidate.PartitionKey}

	order := []side{self, other}
	if other.identity < self.identity {
		order = []side{other, self}
	}

	var held []side
	releaseHeld := func() {
		for _, s := range held {
			e.release(ctx, s.identity, claimID)
		}
	}

	for _, s := range order {
		err := e.Pool.Claim(ctx, s.identity, s.partition, claimID, e.Lease)
		if err == nil {
			held = append(held, s)
			continue
		}
		releaseHeld()
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrClaimed) {
			return candidateLost, err
		}
		if s == self {
			return requesterLost, nil
		}
		return candidateLost, nil
	}

	if err := e.Pool.Commit(ctx, other.identity, claimID); err != nil {
		releaseHeld()
		if errors.Is(err, ErrNotFound) {
			return candidateLost, nil
		}
		return candidateLost, err
	}

	if err := e.Pool.Commit(ctx, self.identity, claimID); err != nil {
		e.restore(ctx, candidate)
		e.release(ctx, self.identity, claimID)
		if errors.Is(err, ErrNotFound) {
			return requesterLost, nil
		}
		return requesterLost, err
	}
	return committed, nil
}

func (e *MatchEngine) release(ctx context.Context, identity, claimID string) {
	if err := e.Pool.Release(ctx, identity, claimID); err != nil {
		log.WithError(err).WithField("deviceId", identity).Warn("⚠️ Release failed, lease will expire")
	}
}

func (e *MatchEngine) restore(ctx context.Context, candidate models.QueueEntry) {
	metrics.Rollbacks.Inc()
	err := e.Pool.Restore(ctx, candidate)
	switch {
	case err == nil:
		log.WithField("deviceId", candidate.Identity).Info("↩️ Candidate restored to pool")
	case errors.Is(err, ErrAlreadyQueued):
		log.WithField("deviceId", candidate.Identity).Debug("Candidate re-queued before restore")
	default:
		log.WithError(err).WithField("deviceId", candidate.Identity).Error("❌ Failed to restore candidate")
	}
}
