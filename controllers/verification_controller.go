package controllers

import (
	"io"
	"net/http"
	"strings"

	"klymo_server/services"
	"klymo_server/utils"

	log "github.com/sirupsen/logrus"
)

// MaxVerificationImage is the largest accepted upload.
const MaxVerificationImage = 5 << 20

// VerificationController forwards a verification image to the inference
// service and stores the verdict on the profile.
type VerificationController struct {
	Verifier           services.Verifier
	UserProfileService *services.UserProfileService
}

func NewVerificationController(verifier services.Verifier, profiles *services.UserProfileService) *VerificationController {
	return &VerificationController{Verifier: verifier, UserProfileService: profiles}
}

func (c *VerificationController) Verify(w http.ResponseWriter, r *http.Request) {
	deviceID := DeviceID(r)
	logger := log.WithField("deviceId", deviceID)

	r.Body = http.MaxBytesReader(w, r.Body, MaxVerificationImage+(1<<20))
	// Whole form in memory, nothing spills to disk.
	if err := r.ParseMultipartForm(MaxVerificationImage + (1 << 20)); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Image file is required")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Image file is required")
		return
	}
	defer file.Close()

	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		utils.WriteError(w, http.StatusBadRequest, "Only image files are allowed")
		return
	}
	if header.Size > MaxVerificationImage {
		utils.WriteError(w, http.StatusRequestEntityTooLarge, "Image too large")
		return
	}

	image, err := io.ReadAll(io.LimitReader(file, MaxVerificationImage+1))
	if err != nil || len(image) > MaxVerificationImage {
		utils.WriteError(w, http.StatusBadRequest, "Could not read image")
		return
	}

	result, err := c.Verifier.Verify(r.Context(), header.Filename, image)
	if err != nil {
		logger.WithError(err).Error("❌ Verification failed")
		utils.WriteJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
		return
	}

	if !result.IsVerified {
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success":    false,
			"isVerified": false,
			"confidence": result.Confidence,
		})
		return
	}

	profile, err := c.UserProfileService.ApplyVerification(r.Context(), deviceID, result)
	if err != nil {
		logger.WithError(err).Error("❌ Failed to store verification")
		utils.WriteError(w, http.StatusInternalServerError, "Failed to store verification")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"isVerified": true,
		"gender":     profile.VerifiedGender,
		"confidence": result.Confidence,
	})
}
