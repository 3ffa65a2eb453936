package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zapcrm/zapcrm/internal/middleware"
	"github.com/zapcrm/zapcrm/internal/model"
	"github.com/zapcrm/zapcrm/internal/store"
	"github.com/zapcrm/zapcrm/pkg/logger"
)

// SettingsService changes tenant settings.
type SettingsService interface {
	RegisterConnection(ctx context.Context, tenantID string, req *model.RegisterConnectionRequest) (*model.Connection, error)
	UpdateTenant(ctx context.Context, tenantID string, req *model.UpdateTenantRequest) (*model.Tenant, error)
}

// SettingsHandler handles admin settings endpoints.
type SettingsHandler struct {
	settings SettingsService
	logger   *logger.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(svc SettingsService, log *logger.Logger) *SettingsHandler {
	return &SettingsHandler{settings: svc, logger: log}
}

// RegisterConnection handles PUT /api/v1/connections
func (h *SettingsHandler) RegisterConnection(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	var req model.RegisterConnectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateRegisterConnection(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := h.settings.RegisterConnection(r.Context(), tenantID, &req)
	switch {
	case errors.Is(err, store.ErrChannelTaken):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to register connection",
			zap.String("tenant_id", tenantID),
			zap.String("channel_id", req.PhoneNumberID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to register connection")
		return
	}

	h.logger.Info("connection registered",
		zap.String("tenant_id", tenantID),
		zap.String("channel_id", conn.PhoneNumberID),
	)
	writeJSON(w, http.StatusOK, conn)
}

// UpdateTenant handles PUT /api/v1/tenant
func (h *SettingsHandler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	var req model.UpdateTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateTenant(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tenant, err := h.settings.UpdateTenant(r.Context(), tenantID, &req)
	if err != nil {
		h.logger.Error("failed to update tenant", zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update tenant")
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}
