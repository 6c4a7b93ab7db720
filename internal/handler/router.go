package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"placementmail/internal/middleware"
)

// NewRouter wires every endpoint of the campaign API
func NewRouter(campaigns *CampaignHandler, previews *PreviewHandler, health *HealthHandler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recovery(logger), middleware.RequestLogger(logger))

	router.HandleFunc("/campaigns", campaigns.Create).Methods(http.MethodPost)
	router.HandleFunc("/campaigns", campaigns.List).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id}", campaigns.GetByID).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id}/send", campaigns.Send).Methods(http.MethodPost)
	router.HandleFunc("/campaigns/{id}/cancel", campaigns.Cancel).Methods(http.MethodPost)
	router.HandleFunc("/campaigns/{id}/jobs", campaigns.ListJobs).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id}/preview-email", previews.PreviewEmail).Methods(http.MethodPost)
	router.HandleFunc("/jobs/{id}/deliveries", campaigns.ListDeliveries).Methods(http.MethodGet)
	router.HandleFunc("/drives/{id}/resolve-recipients", previews.ResolveRecipients).Methods(http.MethodPost)

	if health != nil {
		router.HandleFunc("/health", health.HandleHealth).Methods(http.MethodGet)
	}

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "ROUTE_NOT_FOUND", "No route for "+r.Method+" "+r.URL.Path)
	})

	return router
}
