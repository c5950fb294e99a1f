package handlers

import (
	"net/http"

	"docflow/internal/alerts"
	"docflow/internal/store"
	"docflow/pkg/api"
)

const defaultExpiringDays = 30

// ListExpiring handles GET /documents/expiring?days=N&expired=bool&acknowledged=bool.
func (h *Handlers) ListExpiring(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}

	days, err := queryInt(r, "days", defaultExpiringDays)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	expired, err := queryBool(r, "expired")
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	acknowledged, err := queryBool(r, "acknowledged")
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	items, err := h.alerts.Expiring(r.Context(), alerts.ExpiringQuery{
		Days:           days,
		IncludeExpired: expired != nil && *expired,
		Acknowledged:   acknowledged,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.ListExpiringResponse{Documents: make([]api.ExpiringDocumentResponse, 0, len(items))}
	for _, it := range items {
		row := api.ExpiringDocumentResponse{
			Document:      toDocumentResponse(it.Document),
			DaysRemaining: it.DaysRemaining,
		}
		if it.LatestAlert != nil {
			a := toAlertResponse(*it.LatestAlert)
			row.LatestAlert = &a
		}
		resp.Documents = append(resp.Documents, row)
	}
	h.respondJson(w, http.StatusOK, resp)
}

// AcknowledgeAlert handles POST /alerts/{id}/acknowledge.
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	alertID, ok := h.pathID(w, r, "id", "alert")
	if !ok {
		return
	}

	alert, err := h.alerts.Acknowledge(r.Context(), alertID, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toAlertResponse(*alert))
}

func toAlertResponse(a store.DocumentAlert) api.AlertResponse {
	return api.AlertResponse{
		ID:             a.ID.String(),
		DocumentID:     a.DocumentID.String(),
		Level:          a.Level,
		Status:         string(a.Status),
		SentAt:         a.SentAt,
		EscalatedAt:    a.EscalatedAt,
		EscalatedTo:    idString(a.EscalatedTo),
		AcknowledgedAt: a.AcknowledgedAt,
		AcknowledgedBy: idString(a.AcknowledgedBy),
	}
}

func toDocumentResponse(d store.Document) api.DocumentResponse {
	return api.DocumentResponse{
		ID:             d.ID.String(),
		Title:          d.Title,
		Status:         string(d.Status),
		AuthorID:       d.AuthorID.String(),
		Department:     d.Department,
		ExpirationDate: d.ExpirationDate,
		CreatedAt:      d.CreatedAt,
	}
}
