package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zapcrm/zapcrm/internal/middleware"
	"github.com/zapcrm/zapcrm/internal/model"
	"github.com/zapcrm/zapcrm/internal/service"
	"github.com/zapcrm/zapcrm/pkg/logger"
)

// MessageSender sends outbound messages.
type MessageSender interface {
	Send(ctx context.Context, in service.SendInput) (*model.Message, error)
}

// MessageHandler handles the internal send API.
type MessageHandler struct {
	sender MessageSender
	logger *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(sender MessageSender, log *logger.Logger) *MessageHandler {
	return &MessageHandler{sender: sender, logger: log}
}

// Send handles POST /api/v1/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	var req model.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateSendMessage(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.sender.Send(ctx, service.SendInput{
		TenantID:  tenantID,
		UserID:    middleware.GetUserID(ctx),
		To:        req.To,
		Content:   req.Content,
		Kind:      req.Kind,
		Caption:   req.Caption,
		ChannelID: req.ChannelID,
	})
	switch {
	case errors.Is(err, service.ErrNoConnection):
		writeError(w, http.StatusUnprocessableEntity, "tenant has no connection")
		return
	case err != nil:
		h.logger.Error("failed to send message", zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	if msg == nil {
		// Pending connection or unknown recipient: nothing was recorded.
		writeJSON(w, http.StatusAccepted, &model.SendMessageResponse{Status: "not_recorded"})
		return
	}
	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{Status: "sent", Message: msg})
}
