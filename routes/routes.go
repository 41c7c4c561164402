package routes

import (
	"net/http"

	"klymo_server/controllers"
	"klymo_server/services"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes sets up the public endpoints
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", controllers.WelcomeHandler).Methods("GET")
	r.HandleFunc("/health", controllers.HealthCheckHandler).Methods("GET")
	r.HandleFunc("/privacy-policy", PrivacyPolicyHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// RegisterAPIRoutes sets up the device-scoped routes under /api
func RegisterAPIRoutes(r *mux.Router, profiles *services.UserProfileService, verifier services.Verifier, reports *services.ReportService) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(controllers.RequireDeviceID)

	profileController := controllers.NewUserProfileController(profiles)
	api.HandleFunc("/onboarding", profileController.Onboard).Methods("POST")
	api.HandleFunc("/profile", profileController.GetProfile).Methods("GET")

	verificationController := controllers.NewVerificationController(verifier, profiles)
	api.HandleFunc("/verify", verificationController.Verify).Methods("POST")

	reportController := controllers.NewReportController(reports)
	api.HandleFunc("/report", reportController.File).Methods("POST")
}

// RegisterSocketRoutes mounts the Socket.IO handler
func RegisterSocketRoutes(r *mux.Router, socketServer http.Handler) {
	r.PathPrefix("/socket.io/").Handler(socketServer)
}
