package controllers

import (
	"context"
	"net/http"
	"strings"

	"klymo_server/services"
	"klymo_server/utils"
)

type ctxKey int

const deviceIDKey ctxKey = iota

// HealthCheckHandler provides a basic health check
func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// WelcomeHandler provides a welcome message
func WelcomeHandler(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the server! This is the Klymo API."})
}

// RequireDeviceID rejects requests without a device-id header and stores
// the id on the request context.
func RequireDeviceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID := strings.TrimSpace(r.Header.Get(services.HTTPDeviceHeader))
		if deviceID == "" {
			utils.WriteError(w, http.StatusBadRequest, "Device ID is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceIDKey, deviceID)))
	})
}

// DeviceID returns the id stored by RequireDeviceID.
func DeviceID(r *http.Request) string {
	id, _ := r.Context().Value(deviceIDKey).(string)
	return id
}
