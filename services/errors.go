package services

import "errors"

// Expected outcomes. They are normal control flow and carry a stable
// reason code to the client; store failures are wrapped separately.
var (
	ErrAlreadyQueued      = errors.New("identity already queued")
	ErrNotFound           = errors.New("queue entry not found")
	ErrClaimed            = errors.New("queue entry claimed by another attempt")
	ErrDailyLimitExceeded = errors.New("daily match limit exceeded")
	ErrOnCooldown         = errors.New("identity on cooldown")
	ErrPeerUnavailable    = errors.New("peer connection unavailable")
	ErrNotInRoom          = errors.New("identity is not in room")
	ErrProfileMissing     = errors.New("profile missing or unverified")
	ErrAlreadyInSession   = errors.New("identity already in a session")
	ErrRejected           = errors.New("connection rejected: device id missing")
	ErrProfileNotFound    = errors.New("profile not found")
)

// Wire reason codes.
const (
	ReasonAlreadyQueued      = "AlreadyQueued"
	ReasonDailyLimitExceeded = "DailyLimitExceeded"
	ReasonOnCooldown         = "OnCooldown"
	ReasonProfileMissing     = "ProfileMissing"
	ReasonAlreadyInSession   = "AlreadyInSession"
	ReasonNotInRoom          = "NotInRoom"
	ReasonInternal           = "Internal"
)

// ReasonCode maps an error to the code reported in queue:error and chat:error.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyQueued):
		return ReasonAlreadyQueued
	case errors.Is(err, ErrDailyLimitExceeded):
		return ReasonDailyLimitExceeded
	case errors.Is(err, ErrOnCooldown):
		return ReasonOnCooldown
	case errors.Is(err, ErrProfileMissing), errors.Is(err, ErrProfileNotFound):
		return ReasonProfileMissing
	case errors.Is(err, ErrAlreadyInSession):
		return ReasonAlreadyInSession
	case errors.Is(err, ErrNotInRoom):
		return ReasonNotInRoom
	}
	return ReasonInternal
}
