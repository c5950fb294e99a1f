package handlers

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"

	"docflow/internal/auth"
	"docflow/internal/store"
	"docflow/pkg/api"

	"github.com/google/uuid"
)

// InternalCreateUser handles POST /internal/users.
// It generates an API key, stores only its hash, and returns the raw key once.
func (h *Handlers) InternalCreateUser(w http.ResponseWriter, r *http.Request) {
	var req api.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		h.httpError(w, "A valid email is required", http.StatusBadRequest)
		return
	}
	role := store.Role(strings.ToUpper(req.Role))
	switch role {
	case store.RoleAdmin, store.RoleManager, store.RoleUser:
	default:
		h.httpError(w, "Role must be ADMIN, MANAGER or USER", http.StatusBadRequest)
		return
	}

	apiKey, hashedKey, err := auth.GenerateKey()
	if err != nil {
		h.httpError(w, "Entropy failure", http.StatusInternalServerError)
		return
	}

	user := &store.User{
		ID:         uuid.New(),
		Email:      req.Email,
		Name:       req.Name,
		Role:       role,
		Department: req.Department,
		CreatedAt:  h.now(),
	}
	if err := h.store.CreateUser(r.Context(), user, hashedKey); err != nil {
		h.fail(w, r, err)
		return
	}

	h.respondJson(w, http.StatusCreated, api.CreateUserResponse{
		ID:         user.ID.String(),
		Email:      user.Email,
		Role:       string(user.Role),
		Department: user.Department,
		APIKey:     apiKey,
	})
}

// InternalCreateDocument handles POST /internal/documents. It registers a
// document owned by the content service so the lifecycle core can track it.
func (h *Handlers) InternalCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req api.CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		h.httpError(w, "Title is required", http.StatusBadRequest)
		return
	}
	authorID, err := uuid.Parse(req.AuthorID)
	if err != nil {
		h.httpError(w, "Invalid author id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	author, err := h.store.GetUserByID(ctx, authorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := store.DocumentStatus(strings.ToUpper(req.Status))
	switch status {
	case "":
		status = store.DocumentStatusDraft
	case store.DocumentStatusDraft, store.DocumentStatusApproved:
	default:
		h.httpError(w, "Status must be DRAFT or APPROVED", http.StatusBadRequest)
		return
	}

	department := req.Department
	if department == "" {
		department = author.Department
	}

	now := h.now()
	doc := &store.Document{
		ID:             uuid.New(),
		Title:          req.Title,
		Status:         status,
		AuthorID:       authorID,
		Department:     department,
		ExpirationDate: req.ExpirationDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.store.CreateDocument(ctx, doc); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toDocumentResponse(*doc))
}
