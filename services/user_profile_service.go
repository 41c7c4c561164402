package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"klymo_server/models"
	"klymo_server/utils"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	log "github.com/sirupsen/logrus"
)

// ProfileProvider is all the matchmaking core needs from profiles.
type ProfileProvider interface {
	GetProfile(ctx context.Context, deviceID string) (models.Profile, error)
}

// ProfileStore persists profiles keyed by device id.
type ProfileStore interface {
	ProfileProvider
	PutProfile(ctx context.Context, profile models.Profile) error
}

// ValidationError is a rejected onboarding field.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// OnboardingRequest is the editable part of a profile.
type OnboardingRequest struct {
	NickName               string `json:"nickName"`
	ShortBio               string `json:"shortBio"`
	Pronouns               string `json:"pronouns"`
	PreferredPartnerGender string `json:"preferredPartnerGender"`
}

// Validate applies the onboarding rules.
func (r OnboardingRequest) Validate() error {
	nick := strings.TrimSpace(r.NickName)
	if nick == "" {
		return &ValidationError{Message: "Nickname is required"}
	}
	if n := utf8.RuneCountInString(nick); n < 2 || n > 30 {
		return &ValidationError{Message: "Nickname must be between 2 and 30 characters"}
	}
	if utf8.RuneCountInString(r.ShortBio) > 150 {
		return &ValidationError{Message: "Bio must be under 150 characters"}
	}
	if !models.IsPreference(r.PreferredPartnerGender) {
		return &ValidationError{Message: "Invalid preferred partner gender"}
	}
	return nil
}

type UserProfileService struct {
	Store ProfileStore
	now   func() time.Time
}

func NewUserProfileService(store ProfileStore, now func() time.Time) *UserProfileService {
	if now == nil {
		now = time.Now
	}
	return &UserProfileService{Store: store, now: now}
}

func (ups *UserProfileService) GetProfile(ctx context.Context, deviceID string) (models.Profile, error) {
	return ups.Store.GetProfile(ctx, deviceID)
}

// existing loads a profile, or a blank one for a new device.
func (ups *UserProfileService) existing(ctx context.Context, deviceID string) (models.Profile, error) {
	profile, err := ups.Store.GetProfile(ctx, deviceID)
	if errors.Is(err, ErrProfileNotFound) {
		return models.Profile{DeviceID: deviceID}, nil
	}
	return profile, err
}

// UpsertProfile creates or updates the editable fields. Verification fields
// are kept as stored.
func (ups *UserProfileService) UpsertProfile(ctx context.Context, deviceID string, req OnboardingRequest) (models.Profile, error) {
	if err := req.Validate(); err != nil {
		return models.Profile{}, err
	}

	profile, err := ups.existing(ctx, deviceID)
	if err != nil {
		return models.Profile{}, err
	}
	profile.NickName = strings.TrimSpace(req.NickName)
	profile.ShortBio = req.ShortBio
	profile.Pronouns = req.Pronouns
	profile.PreferredPartnerGender = req.PreferredPartnerGender

	if err := ups.Store.PutProfile(ctx, profile); err != nil {
		return models.Profile{}, err
	}
	log.WithField("deviceId", deviceID).Info("✅ Profile saved")
	return profile, nil
}

// ApplyVerification stores a successful verification result as the
// profile's verified gender.
func (ups *UserProfileService) ApplyVerification(ctx context.Context, deviceID string, result VerificationResult) (models.Profile, error) {
	if !result.IsVerified || !models.IsAttribute(result.DetectedGender) {
		return models.Profile{}, fmt.Errorf("verification for %s not accepted (gender %q)", deviceID, result.DetectedGender)
	}

	profile, err := ups.existing(ctx, deviceID)
	if err != nil {
		return models.Profile{}, err
	}
	profile.VerifiedGender = result.DetectedGender
	profile.VerificationConfidence = result.Confidence
	profile.VerifiedAt = ups.now().UTC().Format(time.RFC3339)

	if err := ups.Store.PutProfile(ctx, profile); err != nil {
		return models.Profile{}, err
	}
	log.WithFields(log.Fields{"deviceId": deviceID, "gender": result.DetectedGender}).Info("🪪 Verification stored")
	return profile, nil
}

// DynamoProfileStore keeps profiles in the Profiles table.
type DynamoProfileStore struct {
	Dynamo *DynamoService
	Table  string
}

func (s *DynamoProfileStore) GetProfile(ctx context.Context, deviceID string) (models.Profile, error) {
	item, err := s.Dynamo.GetItem(ctx, s.Table, utils.StringKey("deviceId", deviceID))
	if err != nil {
		return models.Profile{}, err
	}
	if item == nil {
		return models.Profile{}, ErrProfileNotFound
	}
	var profile models.Profile
	if err := attributevalue.UnmarshalMap(item, &profile); err != nil {
		return models.Profile{}, fmt.Errorf("decode profile %s: %w", deviceID, err)
	}
	return profile, nil
}

func (s *DynamoProfileStore) PutProfile(ctx context.Context, profile models.Profile) error {
	return s.Dynamo.PutItem(ctx, s.Table, profile)
}

// MemoryProfileStore is a process-local ProfileStore.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]models.Profile)}
}

func (s *MemoryProfileStore) GetProfile(_ context.Context, deviceID string) (models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[deviceID]
	if !ok {
		return models.Profile{}, ErrProfileNotFound
	}
	return profile, nil
}

func (s *MemoryProfileStore) PutProfile(_ context.Context, profile models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.DeviceID] = profile
	return nil
}
