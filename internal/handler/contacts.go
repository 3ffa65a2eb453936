package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zapcrm/zapcrm/internal/middleware"
	"github.com/zapcrm/zapcrm/internal/model"
	"github.com/zapcrm/zapcrm/internal/store"
	"github.com/zapcrm/zapcrm/pkg/logger"
)

// ContactService serves contact reads and status changes.
type ContactService interface {
	List(ctx context.Context, tenantID string, limit, offset int) (*model.ListContactsResponse, error)
	Thread(ctx context.Context, tenantID, contactID string) (*model.ListMessagesResponse, error)
	UpdateStatus(ctx context.Context, tenantID, contactID, status string) (*model.Contact, error)
}

// ContactHandler handles contact endpoints.
type ContactHandler struct {
	contacts ContactService
	logger   *logger.Logger
}

// NewContactHandler creates a new contact handler.
func NewContactHandler(svc ContactService, log *logger.Logger) *ContactHandler {
	return &ContactHandler{contacts: svc, logger: log}
}

// List handles GET /api/v1/contacts
func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	limit := queryInt(r, "limit", 50, 200)
	offset := queryInt(r, "offset", 0, 0)

	resp, err := h.contacts.List(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list contacts", zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Thread handles GET /api/v1/contacts/{id}/messages
func (h *ContactHandler) Thread(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	contactID := chi.URLParam(r, "id")

	resp, err := h.contacts.Thread(r.Context(), tenantID, contactID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "contact not found")
		return
	case err != nil:
		h.logger.Error("failed to load thread", zap.String("contact_id", contactID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateStatus handles PUT /api/v1/contacts/{id}/status
func (h *ContactHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	contactID := chi.URLParam(r, "id")

	var req model.UpdateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateStatus(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	contact, err := h.contacts.UpdateStatus(r.Context(), tenantID, contactID, req.Status)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "contact not found")
		return
	case err != nil:
		h.logger.Error("failed to update status", zap.String("contact_id", contactID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}
	writeJSON(w, http.StatusOK, contact)
}
