package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"klymo_server/metrics"
	"klymo_server/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Socket events emitted to clients.
const (
	EventQueueJoined = "queue:joined"
	EventQueueError  = "queue:error"
	EventMatchFound  = "match:found"
	EventChatMessage = "chat:message"
	EventChatError   = "chat:error"
	EventChatEnded   = "chat:ended"
)

// Peer is a live client connection. socketio.Conn satisfies it.
type Peer interface {
	ID() string
	Emit(event string, args ...interface{})
}

// State is a participant's position in the matchmaking lifecycle.
type State int

const (
	StateIdle State = iota
	StateQueued
	StatePaired
	StateInSession
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateQueued:
		return "Queued"
	case StatePaired:
		return "Paired"
	case StateInSession:
		return "InSession"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// PeerUnavailableError names the participants that had no live connection
// when a session was created. It matches ErrPeerUnavailable.
type PeerUnavailableError struct {
	Missing []string
}

func (e *PeerUnavailableError) Error() string {
	return "peer connection unavailable: " + strings.Join(e.Missing, ", ")
}

func (e *PeerUnavailableError) Is(target error) bool { return target == ErrPeerUnavailable }

// IsMissing reports whether identity was one of the unavailable sides.
func (e *PeerUnavailableError) IsMissing(identity string) bool {
	for _, m := range e.Missing {
		if m == identity {
			return true
		}
	}
	return false
}

type participant struct {
	peer     Peer
	state    State
	previous State // state to return to if a Paired reservation fails
	roomID   string
	entry    models.QueueEntry // set while Queued
}

type emission struct {
	peer    Peer
	event   string
	payload interface{}
}

// DisconnectResult describes what a dropped connection left behind.
type DisconnectResult struct {
	Current bool // false when a newer connection had already replaced it
	State   State
	Entry   models.QueueEntry
	Ended   *models.Session
}

// SessionManager binds identities to live connections and owns the rooms
// created on this instance. Emits happen after the lock is released.
type SessionManager struct {
	Profiles ProfileProvider

	mu           sync.Mutex
	participants map[string]*participant
	rooms        map[string]*models.Session
	now          func() time.Time
}

func NewSessionManager(profiles ProfileProvider, now func() time.Time) *SessionManager {
	if now == nil {
		now = time.Now
	}
	return &SessionManager{
		Profiles:     profiles,
		participants: make(map[string]*participant),
		rooms:        make(map[string]*models.Session),
		now:          now,
	}
}

func flush(out []emission) {
	for _, e := range out {
		e.peer.Emit(e.event, e.payload)
	}
}

// Attach binds peer to identity. A newer connection replaces the old one
// and keeps the lifecycle state; the replaced peer is returned.
func (sm *SessionManager) Attach(identity string, peer Peer) Peer {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if p, ok := sm.participants[identity]; ok {
		old := p.peer
		p.peer = peer
		log.WithFields(log.Fields{"deviceId": identity, "connId": peer.ID()}).Info("🔁 Connection replaced")
		return old
	}
	sm.participants[identity] = &participant{peer: peer, state: StateIdle}
	metrics.ActiveConnections.Inc()
	return nil
}

// IsCurrent reports whether connID is the connection bound to identity.
func (sm *SessionManager) IsCurrent(identity, connID string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	p, ok := sm.participants[identity]
	return ok && p.peer.ID() == connID
}

// State returns the participant state; Idle when unknown.
func (sm *SessionManager) State(identity string) State {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if p, ok := sm.participants[identity]; ok {
		return p.state
	}
	return StateIdle
}

// Connected reports whether identity has a live connection here.
func (sm *SessionManager) Connected(identity string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	_, ok := sm.participants[identity]
	return ok
}

// CanQueue checks that identity may enter the pool from its current state.
func (sm *SessionManager) CanQueue(identity string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	p, ok := sm.participants[identity]
	if !ok {
		return ErrPeerUnavailable
	}
	switch p.state {
	case StateQueued:
		return ErrAlreadyQueued
	case StatePaired, StateInSession:
		return ErrAlreadyInSession
	}
	return nil
}

// MarkQueued records the pool entry for identity and emits queue:joined.
// Only one caller can move an identity from Idle to Queued.
func (sm *SessionManager) MarkQueued(identity string, entry models.QueueEntry) error {
	sm.mu.Lock()
	p, ok := sm.participants[identity]
	if !ok {
		sm.mu.Unlock()
		return ErrPeerUnavailable
	}
	switch p.state {
	case StateQueued:
		sm.mu.Unlock()
		return ErrAlreadyQueued
	case StatePaired, StateInSession:
		sm.mu.Unlock()
		return ErrAlreadyInSession
	}
	p.state = StateQueued
	p.entry = entry
	peer := p.peer
	sm.mu.Unlock()

	peer.Emit(EventQueueJoined, map[string]interface{}{})
	return nil
}

// MarkIdle moves a queued identity back to Idle and returns its entry.
func (sm *SessionManager) MarkIdle(identity string) (models.QueueEntry, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	p, ok := sm.participants[identity]
	if !ok || p.state != StateQueued {
		return models.QueueEntry{}, false
	}
	entry := p.entry
	p.state = StateIdle
	p.entry = models.QueueEntry{}
	return entry, true
}

// RevertQueued undoes MarkQueued when entry never made it into the pool. It
// does nothing if identity has since moved on or queued a different entry.
func (sm *SessionManager) RevertQueued(identity string, entry models.QueueEntry) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	p, ok := sm.participants[identity]
	if !ok || p.state != StateQueued || p.entry.OrderKey != entry.OrderKey {
		return false
	}
	p.state = StateIdle
	p.entry = models.QueueEntry{}
	return true
}

// QueuedEntry returns the pool entry of a locally queued identity.
func (sm *SessionManager) QueuedEntry(identity string) (models.QueueEntry, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	p, ok := sm.participants[identity]
	if !ok || p.state != StateQueued {
		return models.QueueEntry{}, false
	}
	return p.entry, true
}

// Queued snapshots the entries of every locally queued identity.
func (sm *SessionManager) Queued() []models.QueueEntry {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	out := make([]models.QueueEntry, 0)
	for _, p := range sm.participants {
		if p.state == StateQueued {
			out = append(out, p.entry)
		}
	}
	return out
}

// Session returns a copy of the room, if it is open.
func (sm *SessionManager) Session(roomID string) (models.Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, ok := sm.rooms[roomID]
	if !ok {
		return models.Session{}, false
	}
	return *s, true
}

// Emit sends an event to identity if it is connected.
func (sm *SessionManager) Emit(identity, event string, payload interface{}) {
	sm.mu.Lock()
	p, ok := sm.participants[identity]
	var peer Peer
	if ok {
		peer = p.peer
	}
	sm.mu.Unlock()

	if peer != nil {
		peer.Emit(event, payload)
	}
}

// CreateSession opens a room for a committed pairing and emits match:found
// to both sides. If either side has no live connection the live side keeps
// its earlier state and a *PeerUnavailableError is returned.
func (sm *SessionManager) CreateSession(ctx context.Context, a, b string) (models.Session, error) {
	if err := sm.reserve(a, b); err != nil {
		return models.Session{}, err
	}

	publicA := sm.publicProfile(ctx, a)
	publicB := sm.publicProfile(ctx, b)

	sm.mu.Lock()
	pa, okA := sm.participants[a]
	pb, okB := sm.participants[b]
	if missing := missingSides(a, okA && pa.state == StatePaired, b, okB && pb.state == StatePaired); len(missing) > 0 {
		for _, p := range []*participant{pa, pb} {
			if p != nil && p.state == StatePaired {
				p.state = p.previous
			}
		}
		sm.mu.Unlock()
		return models.Session{}, &PeerUnavailableError{Missing: missing}
	}

	session := &models.Session{
		RoomID:       uuid.NewString(),
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    sm.now(),
	}
	sm.rooms[session.RoomID] = session
	for _, p := range []*participant{pa, pb} {
		p.state = StateInSession
		p.roomID = session.RoomID
		p.entry = models.QueueEntry{}
	}
	out := []emission{
		{peer: pa.peer, event: EventMatchFound, payload: matchFoundPayload(session.RoomID, b, publicB)},
		{peer: pb.peer, event: EventMatchFound, payload: matchFoundPayload(session.RoomID, a, publicA)},
	}
	sm.mu.Unlock()

	metrics.ActiveSessions.Inc()
	log.WithFields(log.Fields{"roomId": session.RoomID, "a": a, "b": b}).Info("🎉 Session created")
	flush(out)
	return *session, nil
}

// reserve moves both sides to Paired so a concurrent queue:enter or
// disconnect sees them as taken.
func (sm *SessionManager) reserve(a, b string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	pa, okA := sm.participants[a]
	pb, okB := sm.participants[b]
	if missing := missingSides(a, okA, b, okB); len(missing) > 0 {
		return &PeerUnavailableError{Missing: missing}
	}
	if pa.state == StatePaired || pa.state == StateInSession || pb.state == StatePaired || pb.state == StateInSession {
		return ErrAlreadyInSession
	}
	for _, p := range []*participant{pa, pb} {
		p.previous = p.state
		p.state = StatePaired
	}
	return nil
}

func missingSides(a string, okA bool, b string, okB bool) []string {
	var missing []string
	if !okA {
		missing = append(missing, a)
	}
	if !okB {
		missing = append(missing, b)
	}
	return missing
}

func (sm *SessionManager) publicProfile(ctx context.Context, identity string) *models.PublicProfile {
	if sm.Profiles == nil {
		return nil
	}
	profile, err := sm.Profiles.GetProfile(ctx, identity)
	if err != nil {
		log.WithError(err).WithField("deviceId", identity).Warn("⚠️ Peer profile unavailable")
		return nil
	}
	public := profile.Public()
	return &public
}

func matchFoundPayload(roomID, peerID string, peer *models.PublicProfile) map[string]interface{} {
	payload := map[string]interface{}{
		"roomId": roomID,
		"peerId": peerID,
	}
	if peer != nil {
		payload["peer"] = peer
	}
	return payload
}

// Relay forwards text from sender to the other participant of roomID.
func (sm *SessionManager) Relay(roomID, sender, text string) error {
	sm.mu.Lock()
	room, ok := sm.rooms[roomID]
	if !ok || !room.Has(sender) {
		sm.mu.Unlock()
		return ErrNotInRoom
	}
	var peer Peer
	if p, ok := sm.participants[room.Peer(sender)]; ok {
		peer = p.peer
	}
	sm.mu.Unlock()

	if peer == nil {
		return ErrPeerUnavailable
	}
	peer.Emit(EventChatMessage, map[string]interface{}{
		"roomId": roomID,
		"text":   text,
	})
	metrics.MessagesRelayed.Inc()
	return nil
}

// EndSession closes roomID on behalf of initiator and notifies the other
// participant. Each room ends exactly once; later calls get ErrNotInRoom.
func (sm *SessionManager) EndSession(roomID, initiator string, reason models.EndReason) (models.Session, error) {
	sm.mu.Lock()
	room, ok := sm.rooms[roomID]
	if !ok || !room.Has(initiator) {
		sm.mu.Unlock()
		return models.Session{}, ErrNotInRoom
	}
	out := sm.closeRoomLocked(room, initiator, reason)
	sm.mu.Unlock()

	flush(out)
	return *room, nil
}

func (sm *SessionManager) closeRoomLocked(room *models.Session, initiator string, reason models.EndReason) []emission {
	delete(sm.rooms, room.RoomID)

	var out []emission
	for _, id := range []string{room.ParticipantA, room.ParticipantB} {
		p, ok := sm.participants[id]
		if !ok || p.roomID != room.RoomID {
			continue
		}
		p.state = StateIdle
		p.roomID = ""
		if id != initiator {
			out = append(out, emission{peer: p.peer, event: EventChatEnded, payload: map[string]interface{}{
				"roomId": room.RoomID,
				"reason": string(reason),
			}})
		}
	}

	metrics.ActiveSessions.Dec()
	metrics.SessionsEnded.WithLabelValues(string(reason)).Inc()
	log.WithFields(log.Fields{"roomId": room.RoomID, "initiator": initiator, "reason": reason}).Info("🔚 Session ended")
	return out
}

// Disconnect drops the binding for connID and ends its room with reason
// disconnected. Only the current connection of identity has any effect, and
// only the first call for it.
func (sm *SessionManager) Disconnect(identity, connID string) DisconnectResult {
	sm.mu.Lock()
	p, ok := sm.participants[identity]
	if !ok || p.peer.ID() != connID {
		sm.mu.Unlock()
		return DisconnectResult{}
	}
	delete(sm.participants, identity)
	result := DisconnectResult{Current: true, State: p.state, Entry: p.entry}

	var out []emission
	if room, ok := sm.rooms[p.roomID]; ok {
		out = sm.closeRoomLocked(room, identity, models.EndReasonDisconnected)
		ended := *room
		result.Ended = &ended
	}
	sm.mu.Unlock()

	metrics.ActiveConnections.Dec()
	flush(out)
	return result
}
