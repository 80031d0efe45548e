package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stanstork/uxlens-api/internal/notification"
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

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit := 25
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))

	notifications, err := h.service.ListRecent(r.Context(), uid, limit, unreadOnly)
	if err != nil {
		writeError(w, h.logger, err, "Failed to list notifications")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
	})
}

// Create writes a notification for any user. Routed behind the admin role.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID  string                 `json:"user_id"`
		Type    string                 `json:"type"`
		Title   string                 `json:"title"`
		Message string                 `json:"message"`
		Data    map[string]interface{} `json:"data"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if _, err := uuid.Parse(payload.UserID); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "user_id must be a user id"})
		return
	}

	notif, err := h.service.CreateNotification(r.Context(), notification.Event{
		UserID:  payload.UserID,
		Type:    payload.Type,
		Title:   payload.Title,
		Message: payload.Message,
		Data:    payload.Data,
	})
	if err != nil {
		writeError(w, h.logger, err, "Failed to create notification")
		return
	}
	writeJSON(w, http.StatusCreated, notif)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	notifID, ok := pathID(w, r, "notificationID")
	if !ok {
		return
	}

	notif, err := h.service.MarkRead(r.Context(), uid, notifID)
	if err != nil {
		writeError(w, h.logger, err, "Failed to update notification")
		return
	}
	writeJSON(w, http.StatusOK, notif)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := h.service.MarkAllRead(r.Context(), uid)
	if err != nil {
		writeError(w, h.logger, err, "Failed to update notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *NotificationHandler) ClearRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := h.service.ClearRead(r.Context(), uid)
	if err != nil {
		writeError(w, h.logger, err, "Failed to clear notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
