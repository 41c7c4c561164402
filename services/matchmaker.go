package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"klymo_server/metrics"
	"klymo_server/models"

	log "github.com/sirupsen/logrus"
)

// Matchmaker runs the queue-entry flow: gate, enqueue, match, open a room.
type Matchmaker struct {
	Pool       WaitingPool
	Engine     *MatchEngine
	Limiter    *RateLimiter
	Sessions   *SessionManager
	Profiles   ProfileProvider
	MaxRequeue int

	// handoff is held shared by every local move of an entry between the
	// pool and participant state, and exclusively by reconcile.
	handoff sync.RWMutex
	now     func() time.Time
}

func NewMatchmaker(pool WaitingPool, engine *MatchEngine, limiter *RateLimiter, sessions *SessionManager, profiles ProfileProvider, maxRequeue int, now func() time.Time) *Matchmaker {
	if now == nil {
		now = time.Now
	}
	return &Matchmaker{
		Pool:       pool,
		Engine:     engine,
		Limiter:    limiter,
		Sessions:   sessions,
		Profiles:   profiles,
		MaxRequeue: maxRequeue,
		now:        now,
	}
}

// Connect binds an authenticated connection and returns the connection it
// replaced, if any.
func (m *Matchmaker) Connect(cc *ConnContext, peer Peer) Peer {
	old := m.Sessions.Attach(cc.Identity, peer)
	log.WithFields(log.Fields{"deviceId": cc.Identity, "connId": cc.ConnID}).Info("🔌 Connected")
	return old
}

// Current reports whether cc is still the live binding of its identity.
func (m *Matchmaker) Current(cc *ConnContext) bool {
	return m.Sessions.IsCurrent(cc.Identity, cc.ConnID)
}

// EnterQueue admits identity to the pool and tries to pair it at once.
// Refusals come back as the sentinel errors ReasonCode understands.
func (m *Matchmaker) EnterQueue(ctx context.Context, identity string) error {
	err := m.enterQueue(ctx, identity)
	if err != nil {
		metrics.QueueRejections.WithLabelValues(ReasonCode(err)).Inc()
	}
	return err
}

func (m *Matchmaker) enterQueue(ctx context.Context, identity string) error {
	logger := log.WithField("deviceId", identity)

	if err := m.Sessions.CanQueue(identity); err != nil {
		return err
	}

	profile, err := m.Profiles.GetProfile(ctx, identity)
	if errors.Is(err, ErrProfileNotFound) {
		return ErrProfileMissing
	}
	if err != nil {
		return fmt.Errorf("load profile %s: %w", identity, err)
	}
	if !profile.Matchable() {
		return ErrProfileMissing
	}

	verdict, err := m.Limiter.CheckAndReserve(ctx, identity)
	if err != nil {
		return err
	}
	if err := verdict.Err(); err != nil {
		logger.WithField("verdict", verdict).Info("⛔ Queue entry refused")
		return err
	}

	m.handoff.RLock()
	defer m.handoff.RUnlock()

	// Queued before the entry is visible, so a commit by another requester
	// always finds this side ready to be paired.
	entry := NewQueueEntry(identity, profile.SelfAttribute(), profile.WantedAttribute(), m.now())
	if err := m.Sessions.MarkQueued(identity, entry); err != nil {
		return err
	}
	if err := m.Pool.Enqueue(ctx, entry); err != nil {
		m.Sessions.RevertQueued(identity, entry)
		return err
	}
	metrics.QueueJoins.Inc()
	logger.WithFields(log.Fields{"partition": entry.PartitionKey, "wants": entry.WantedAttribute}).Info("⏳ Queued")

	m.match(ctx, entry, 0)
	return nil
}

// match runs one engine pass for a queued entry. Store failures leave the
// entry queued for the rematch loop.
func (m *Matchmaker) match(ctx context.Context, entry models.QueueEntry, attempt int) {
	pairing, ok, err := m.Engine.AttemptMatch(ctx, Requester{
		Identity:        entry.Identity,
		SelfAttribute:   entry.PartitionKey,
		WantedAttribute: entry.WantedAttribute,
	})
	if err != nil {
		log.WithError(err).WithField("deviceId", entry.Identity).Error("❌ Match attempt failed")
		return
	}
	if !ok {
		return
	}
	m.openSession(ctx, pairing, attempt)
}

func (m *Matchmaker) openSession(ctx context.Context, pairing models.PairingAttempt, attempt int) {
	session, err := m.Sessions.CreateSession(ctx, pairing.Requester, pairing.Candidate)
	if err == nil {
		for _, id := range []string{session.ParticipantA, session.ParticipantB} {
			if _, err := m.Limiter.RecordMatch(ctx, id); err != nil {
				log.WithError(err).WithField("deviceId", id).Error("❌ Failed to count match")
			}
		}
		return
	}

	var unavailable *PeerUnavailableError
	if !errors.As(err, &unavailable) {
		log.WithError(err).WithFields(log.Fields{
			"a": pairing.Requester,
			"b": pairing.Candidate,
		}).Error("❌ Failed to open session")
		return
	}

	log.WithField("missing", unavailable.Missing).Warn("⚠️ Paired peer went away")
	for _, id := range []string{pairing.Requester, pairing.Candidate} {
		if !unavailable.IsMissing(id) {
			m.requeue(ctx, id, attempt+1)
		}
	}
}

// requeue puts the surviving side of a failed pairing back with its
// original position and tries again, up to MaxRequeue times.
func (m *Matchmaker) requeue(ctx context.Context, identity string, attempt int) {
	entry, ok := m.Sessions.QueuedEntry(identity)
	if !ok {
		return
	}
	logger := log.WithFields(log.Fields{"deviceId": identity, "attempt": attempt})

	if attempt > m.MaxRequeue {
		m.Sessions.MarkIdle(identity)
		m.Sessions.Emit(identity, EventQueueError, map[string]string{"reason": ReasonInternal})
		logger.Warn("⚠️ Giving up on requeue")
		return
	}

	if err := m.Pool.Restore(ctx, entry); err != nil && !errors.Is(err, ErrAlreadyQueued) {
		logger.WithError(err).Error("❌ Requeue failed")
		m.Sessions.MarkIdle(identity)
		m.Sessions.Emit(identity, EventQueueError, map[string]string{"reason": ReasonInternal})
		return
	}
	logger.Info("↩️ Requeued after peer loss")
	m.match(ctx, entry, attempt)
}

// LeaveQueue removes a queued identity. Leaving when not queued is a no-op.
func (m *Matchmaker) LeaveQueue(ctx context.Context, identity string) error {
	m.handoff.RLock()
	defer m.handoff.RUnlock()

	entry, ok := m.Sessions.MarkIdle(identity)
	if !ok {
		return nil
	}
	m.dequeue(ctx, entry)
	log.WithField("deviceId", identity).Info("👋 Left queue")
	return nil
}

func (m *Matchmaker) dequeue(ctx context.Context, entry models.QueueEntry) {
	err := m.Pool.Dequeue(ctx, entry.Identity, entry.PartitionKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		log.WithError(err).WithField("deviceId", entry.Identity).Error("❌ Dequeue failed")
	}
}

// Leave ends the room on the initiator's request and starts its cooldown.
func (m *Matchmaker) Leave(ctx context.Context, identity, roomID string) error {
	if _, err := m.Sessions.EndSession(roomID, identity, models.EndReasonLeft); err != nil {
		return err
	}
	return m.Limiter.OnVoluntaryExit(ctx, identity)
}

// Skip ends the room without a cooldown and sends the initiator straight
// back through the queue-entry flow.
func (m *Matchmaker) Skip(ctx context.Context, identity, roomID string) error {
	if _, err := m.Sessions.EndSession(roomID, identity, models.EndReasonSkipped); err != nil {
		return err
	}
	return m.EnterQueue(ctx, identity)
}

// Message relays chat text inside a room.
func (m *Matchmaker) Message(identity, roomID, text string) error {
	return m.Sessions.Relay(roomID, identity, text)
}

// Disconnect tears down whatever the connection held. Repeated calls and
// calls for replaced connections do nothing.
func (m *Matchmaker) Disconnect(ctx context.Context, identity, connID string) {
	m.handoff.RLock()
	defer m.handoff.RUnlock()

	result := m.Sessions.Disconnect(identity, connID)
	if !result.Current {
		return
	}
	if result.State == StateQueued {
		m.dequeue(ctx, result.Entry)
	}
	log.WithFields(log.Fields{"deviceId": identity, "connId": connID, "state": result.State}).Info("🔌 Disconnected")
}

// RunRematch periodically retries matching for every identity still queued
// on this instance, until ctx is cancelled.
func (m *Matchmaker) RunRematch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RematchOnce(ctx)
		}
	}
}

// RematchOnce runs a single rematch pass.
func (m *Matchmaker) RematchOnce(ctx context.Context) {
	m.reconcile(ctx)

	for _, entry := range m.Sessions.Queued() {
		if ctx.Err() != nil {
			return
		}
		m.rematch(ctx, entry)
	}
}

func (m *Matchmaker) rematch(ctx context.Context, entry models.QueueEntry) {
	m.handoff.RLock()
	defer m.handoff.RUnlock()

	if _, still := m.Sessions.QueuedEntry(entry.Identity); !still {
		return
	}
	m.match(ctx, entry, 0)
}

// reconcile puts back the pool entry of every locally queued identity that
// lost it without being paired here. That happens when another instance
// commits one of our participants and cannot open the room.
func (m *Matchmaker) reconcile(ctx context.Context) {
	m.handoff.Lock()
	defer m.handoff.Unlock()

	for _, entry := range m.Sessions.Queued() {
		if ctx.Err() != nil {
			return
		}
		err := m.Pool.Restore(ctx, entry)
		logger := log.WithField("deviceId", entry.Identity)
		switch {
		case err == nil:
			metrics.StrandedRestores.Inc()
			logger.Info("↩️ Restored entry taken by another instance")
		case errors.Is(err, ErrAlreadyQueued):
		default:
			logger.WithError(err).Error("❌ Reconcile failed")
		}
	}
}
