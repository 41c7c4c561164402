package services

import (
	"context"
	"sync"
	"time"

	"klymo_server/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentEvent struct {
	Event   string
	Payload interface{}
}

type fakePeer struct {
	id string

	mu     sync.Mutex
	events []sentEvent
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: id} }

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Emit(event string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var payload interface{}
	if len(args) > 0 {
		payload = args[0]
	}
	p.events = append(p.events, sentEvent{Event: event, Payload: payload})
}

func (p *fakePeer) Events(name string) []sentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []sentEvent
	for _, e := range p.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

// profileFixture returns a verified, matchable profile.
func profileFixture(id, self, wanted string) models.Profile {
	return models.Profile{
		DeviceID:               id,
		NickName:               "nick-" + id,
		VerifiedGender:         self,
		PreferredPartnerGender: wanted,
	}
}

func seedProfiles(store *MemoryProfileStore, profiles ...models.Profile) {
	for _, p := range profiles {
		_ = store.PutProfile(context.Background(), p)
	}
}

func queueEntry(clock *fakeClock, id, self, wanted string) models.QueueEntry {
	entry := NewQueueEntry(id, self, wanted, clock.Now())
	clock.Advance(time.Millisecond)
	return entry
}
