package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"klymo_server/services"
	"klymo_server/utils"

	log "github.com/sirupsen/logrus"
)

// UserProfileController handles onboarding and profile reads
type UserProfileController struct {
	UserProfileService *services.UserProfileService
}

// NewUserProfileController creates a new instance of UserProfileController
func NewUserProfileController(userProfileService *services.UserProfileService) *UserProfileController {
	return &UserProfileController{UserProfileService: userProfileService}
}

// Onboard creates or updates the caller's profile.
func (c *UserProfileController) Onboard(w http.ResponseWriter, r *http.Request) {
	deviceID := DeviceID(r)

	var req services.OnboardingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	profile, err := c.UserProfileService.UpsertProfile(r.Context(), deviceID, req)
	var invalid *services.ValidationError
	if errors.As(err, &invalid) {
		utils.WriteError(w, http.StatusBadRequest, invalid.Message)
		return
	}
	if err != nil {
		log.WithError(err).WithField("deviceId", deviceID).Error("❌ Onboarding failed")
		utils.WriteError(w, http.StatusInternalServerError, "Profile creation failed")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Profile saved successfully",
		"profile": profile,
	})
}

// GetProfile returns the caller's profile.
func (c *UserProfileController) GetProfile(w http.ResponseWriter, r *http.Request) {
	deviceID := DeviceID(r)

	profile, err := c.UserProfileService.GetProfile(r.Context(), deviceID)
	if errors.Is(err, services.ErrProfileNotFound) {
		utils.WriteError(w, http.StatusNotFound, "Profile not found")
		return
	}
	if err != nil {
		log.WithError(err).WithField("deviceId", deviceID).Error("❌ Failed to fetch profile")
		utils.WriteError(w, http.StatusInternalServerError, "Failed to fetch profile")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"profile":   profile,
		"matchable": profile.Matchable(),
	})
}
