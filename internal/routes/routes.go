package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stanstork/uxlens-api/internal/authz"
	"github.com/stanstork/uxlens-api/internal/handlers"
	"github.com/stanstork/uxlens-api/internal/models"
)

type Handlers struct {
	Health        *handlers.HealthHandler
	Analyses      *handlers.AnalysisHandler
	Reports       *handlers.ReportHandler
	Notifications *handlers.NotificationHandler
}

// NewRouter sets up the API routes. Everything under /api requires a bearer token.
func NewRouter(auth *authz.Authenticator, h Handlers) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", h.Health.Check).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware)

	// Analyses
	api.HandleFunc("/projects/{projectID}/analyses", h.Analyses.Submit).Methods(http.MethodPost)
	api.HandleFunc("/projects/{projectID}/analyses", h.Analyses.List).Methods(http.MethodGet)
	api.HandleFunc("/analyses/{analysisID}", h.Analyses.Get).Methods(http.MethodGet)
	api.HandleFunc("/analyses/{analysisID}", h.Analyses.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/analyses/{analysisID}/start", h.Analyses.Start).Methods(http.MethodPost)
	api.HandleFunc("/analyses/{analysisID}/stop", h.Analyses.Stop).Methods(http.MethodPost)
	api.HandleFunc("/analyses/{analysisID}/results", h.Analyses.Results).Methods(http.MethodGet)

	// Reports; bulk-delete is registered before the {reportID} routes
	api.HandleFunc("/projects/{projectID}/reports", h.Reports.Create).Methods(http.MethodPost)
	api.HandleFunc("/projects/{projectID}/reports", h.Reports.List).Methods(http.MethodGet)
	api.HandleFunc("/reports/bulk-delete", h.Reports.BulkDelete).Methods(http.MethodPost)
	api.HandleFunc("/reports/{reportID}", h.Reports.Get).Methods(http.MethodGet)
	api.HandleFunc("/reports/{reportID}/download", h.Reports.Download).Methods(http.MethodGet)
	api.HandleFunc("/reports/{reportID}/regenerate", h.Reports.Regenerate).Methods(http.MethodPost)

	// Notifications
	api.HandleFunc("/notifications", h.Notifications.List).Methods(http.MethodGet)
	api.Handle("/notifications", authz.RequireRoleHandler(models.RoleAdmin, http.HandlerFunc(h.Notifications.Create))).Methods(http.MethodPost)
	api.HandleFunc("/notifications/read-all", h.Notifications.MarkAllRead).Methods(http.MethodPut)
	api.HandleFunc("/notifications/read", h.Notifications.ClearRead).Methods(http.MethodDelete)
	api.HandleFunc("/notifications/{notificationID}/read", h.Notifications.MarkRead).Methods(http.MethodPut)

	return router
}
