package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stanstork/notification-api/internal/handlers"
)

// NewRouter sets up the API routes
func NewRouter(notifications *handlers.NotificationHandler, health *handlers.HealthHandler, ws *handlers.WebSocketHandler) *mux.Router {
	router := mux.NewRouter()

	// Operational routes
	router.HandleFunc("/health", health.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/debug/env", health.DebugEnv).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/v1/notifications").Subrouter()
	api.HandleFunc("", notifications.List).Methods(http.MethodGet)
	api.HandleFunc("/events", notifications.CreateEvent).Methods(http.MethodPost)
	api.HandleFunc("/read-all", notifications.MarkAllRead).Methods(http.MethodPost)
	api.HandleFunc("/preferences", notifications.GetPreferences).Methods(http.MethodGet)
	api.HandleFunc("/preferences", notifications.UpdatePreferences).Methods(http.MethodPut)
	api.HandleFunc("/{notificationID}/read", notifications.MarkRead).Methods(http.MethodPost)

	// Realtime. Older clients open the socket on the server root.
	router.Handle("/ws", ws).Methods(http.MethodGet)
	router.Handle("/", ws).Methods(http.MethodGet).MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return websocket.IsWebSocketUpgrade(r)
	})

	return router
}
