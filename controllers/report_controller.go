package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"klymo_server/services"
	"klymo_server/utils"

	log "github.com/sirupsen/logrus"
)

type ReportController struct {
	ReportService *services.ReportService
}

func NewReportController(reportService *services.ReportService) *ReportController {
	return &ReportController{ReportService: reportService}
}

// File stores an abuse report. The reporter is always the calling device.
func (c *ReportController) File(w http.ResponseWriter, r *http.Request) {
	var req services.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid report payload")
		return
	}
	req.ReporterDeviceID = DeviceID(r)

	report, err := c.ReportService.File(r.Context(), req)
	var invalid *services.ValidationError
	if errors.As(err, &invalid) {
		utils.WriteError(w, http.StatusBadRequest, invalid.Message)
		return
	}
	if err != nil {
		log.WithError(err).Error("❌ Failed to store report")
		utils.WriteError(w, http.StatusInternalServerError, "Failed to store report")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"reportId": report.ReportID,
	})
}
