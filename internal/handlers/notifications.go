package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ukydev/fleet-driver/internal/models"
	"github.com/ukydev/fleet-driver/internal/notify"
)

// FeedService is the part of *notify.Reconciler the API drives.
type FeedService interface {
	Feed() []models.NotificationEvent
	Get(eventID string) (models.NotificationEvent, bool)
	Unread() int
	Stats() notify.Stats
	Acknowledge(ctx context.Context, eventID string)
	Dismiss(ctx context.Context, eventID string)
}

// FeedResponse is the body of GET /api/notifications.
type FeedResponse struct {
	Events []models.NotificationEvent `json:"events"`
	Unread int                        `json:"unread"`
	Stats  notify.Stats               `json:"stats"`
}

// NotificationHandler serves the driver's notification feed.
type NotificationHandler struct {
	feed FeedService
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(feed FeedService) *NotificationHandler {
	return &NotificationHandler{feed: feed}
}

// List returns the feed, newest first.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	events := h.feed.Feed()
	if events == nil {
		events = []models.NotificationEvent{}
	}
	RespondJSON(w, http.StatusOK, FeedResponse{Events: events, Unread: h.feed.Unread(), Stats: h.feed.Stats()})
}

// MarkRead acknowledges an event. Unknown IDs succeed as a no-op.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.feed.Acknowledge(r.Context(), chi.URLParam(r, "id"))
	RespondJSON(w, http.StatusOK, map[string]int{"unread": h.feed.Unread()})
}

// Dismiss removes an event. Unknown IDs succeed as a no-op.
func (h *NotificationHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.feed.Dismiss(r.Context(), chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// Target returns where the app should navigate for an event.
func (h *NotificationHandler) Target(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.feed.Get(chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, http.StatusNotFound, "Notification not found")
		return
	}
	target, ok := notify.NavigationTarget(ev)
	if !ok {
		RespondError(w, http.StatusNotFound, "Notification has no navigation target")
		return
	}
	RespondJSON(w, http.StatusOK, target)
}
