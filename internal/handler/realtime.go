package handler

import (
	"net/http"

	"github.com/zapcrm/zapcrm/internal/middleware"
	"github.com/zapcrm/zapcrm/internal/realtime"
)

// RealtimeHandler opens live sessions bound to the caller's tenant.
type RealtimeHandler struct {
	hub *realtime.Hub
}

// NewRealtimeHandler creates a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Websocket handles GET /api/v1/realtime/ws
func (h *RealtimeHandler) Websocket(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWebsocket(w, r, middleware.GetTenantID(r.Context()), middleware.GetUserID(r.Context()))
}

// SSE handles GET /api/v1/realtime/sse
func (h *RealtimeHandler) SSE(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeSSE(w, r, middleware.GetTenantID(r.Context()), middleware.GetUserID(r.Context()))
}
