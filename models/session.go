package models

import "time"

// Session is a live one-to-one room created from a committed pairing.
type Session struct {
	RoomID       string    `json:"roomId"`
	ParticipantA string    `json:"participantA"`
	ParticipantB string    `json:"participantB"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Peer returns the other participant, or "" if identity is not a member.
func (s Session) Peer(identity string) string {
	switch identity {
	case s.ParticipantA:
		return s.ParticipantB
	case s.ParticipantB:
		return s.ParticipantA
	}
	return ""
}

// Has reports whether identity is a participant.
func (s Session) Has(identity string) bool {
	return identity != "" && (identity == s.ParticipantA || identity == s.ParticipantB)
}
