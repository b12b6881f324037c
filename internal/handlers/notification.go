package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/models"
	"github.com/stanstork/notification-api/internal/notification"
	"github.com/stanstork/notification-api/internal/repository"
)

type NotificationHandler struct {
	service notification.Service
	logger  zerolog.Logger
}

func NewNotificationHandler(service notification.Service, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger.With().Str("handler", "notification").Logger(),
	}
}

// CreateEvent ingests one event. Delivery problems never fail the request;
// only validation and store errors do.
func (h *NotificationHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var evt models.Event
	if err := decodeJSON(w, r, &evt); err != nil {
		writeError(w, h.logger, err, "Failed to process event")
		return
	}

	notif, err := h.service.HandleEvent(r.Context(), evt)
	if err != nil {
		writeError(w, h.logger, err, "Failed to process event")
		return
	}
	writeJSON(w, http.StatusOK, notif)
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params := repository.ListNotificationsParams{
		RecipientID: strings.TrimSpace(query.Get("userId")),
		Limit:       repository.DefaultListLimit,
	}
	if raw := strings.TrimSpace(query.Get("is_read")); raw != "" {
		isRead := raw == "true"
		params.IsRead = &isRead
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			params.Limit = parsed
		}
	}

	notifications, err := h.service.List(r.Context(), params)
	if err != nil {
		writeError(w, h.logger, err, "Failed to fetch notifications")
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	notifID := strings.TrimSpace(mux.Vars(r)["notificationID"])
	notif, err := h.service.MarkRead(r.Context(), notifID)
	if err != nil {
		writeError(w, h.logger.With().Str("notification_id", notifID).Logger(), err, "Failed to mark notification as read")
		return
	}
	writeJSON(w, http.StatusOK, notif)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.MarkAllRead(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, h.logger, err, "Failed to mark all notifications as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   count,
	})
}

func (h *NotificationHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.service.GetPreferences(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, h.logger, err, "Failed to fetch preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// UpdatePreferences upserts the body. A userId query parameter is used when
// the body omits one.
func (h *NotificationHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var update models.PreferencesUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		writeError(w, h.logger, err, "Failed to update preferences")
		return
	}
	if strings.TrimSpace(update.UserID) == "" {
		update.UserID = r.URL.Query().Get("userId")
	}

	updated, err := h.service.UpdatePreferences(r.Context(), update)
	if err != nil {
		writeError(w, h.logger, err, "Failed to update preferences")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
