package handlers

import (
	"net/http"

	"docflow/pkg/api"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 500
)

// ListNotifications handles GET /notifications?unread=true&limit=N for the caller.
func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	unread, err := queryBool(r, "unread")
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", defaultNotificationLimit)
	if err != nil || limit == 0 {
		h.httpError(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}

	notes, err := h.store.ListNotifications(r.Context(), p.ID, unread != nil && *unread, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.ListNotificationsResponse{Notifications: make([]api.NotificationResponse, 0, len(notes))}
	for _, n := range notes {
		resp.Notifications = append(resp.Notifications, api.NotificationResponse{
			ID:         n.ID.String(),
			Type:       string(n.Type),
			Title:      n.Title,
			Message:    n.Message,
			DocumentID: idString(n.DocumentID),
			Read:       n.Read,
			ReadAt:     n.ReadAt,
			CreatedAt:  n.CreatedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// MarkNotificationRead handles POST /notifications/{id}/read.
func (h *Handlers) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id", "notification")
	if !ok {
		return
	}

	if err := h.store.MarkNotificationRead(r.Context(), id, p.ID, h.now()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
