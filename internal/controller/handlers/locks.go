package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"docflow/internal/locks"
	"docflow/pkg/api"
)

// AcquireLock handles POST /documents/{id}/lock. It also renews the caller's
// own lock.
func (h *Handlers) AcquireLock(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	docID, ok := h.pathID(w, r, "id", "document")
	if !ok {
		return
	}

	var req api.AcquireLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	lock, err := h.locks.Acquire(r.Context(), docID, p, req.SessionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	holder := lock.UserID.String()
	h.respondJson(w, http.StatusOK, api.LockResponse{
		DocumentID:       lock.DocumentID.String(),
		Locked:           true,
		Holder:           &holder,
		LockedAt:         &lock.LockedAt,
		ExpiresAt:        &lock.ExpiresAt,
		RemainingSeconds: int64(lock.ExpiresAt.Sub(h.now()).Seconds()),
		Own:              true,
	})
}

// ReleaseLock handles DELETE /documents/{id}/lock. Admins may pass
// ?force=true to remove another user's lock.
func (h *Handlers) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	docID, ok := h.pathID(w, r, "id", "document")
	if !ok {
		return
	}
	force, err := queryBool(r, "force")
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if force != nil && *force {
		err = h.locks.ForceRelease(r.Context(), docID, p)
	} else {
		err = h.locks.Release(r.Context(), docID, p)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetLock handles GET /documents/{id}/lock.
func (h *Handlers) GetLock(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	docID, ok := h.pathID(w, r, "id", "document")
	if !ok {
		return
	}

	info, err := h.locks.Info(r.Context(), docID, p.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toLockResponse(info))
}

func toLockResponse(info *locks.Info) api.LockResponse {
	return api.LockResponse{
		DocumentID:       info.DocumentID.String(),
		Locked:           info.Locked,
		Holder:           idString(info.Holder),
		LockedAt:         info.LockedAt,
		ExpiresAt:        info.ExpiresAt,
		RemainingSeconds: int64(info.Remaining.Seconds()),
		Own:              info.Own,
	}
}
