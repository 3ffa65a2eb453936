package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zapcrm/zapcrm/internal/model"
	"github.com/zapcrm/zapcrm/pkg/metrics"
)

// HeartbeatInterval keeps idle SSE connections open through proxies.
var HeartbeatInterval = 30 * time.Second

// ServeSSE streams the tenant's events as server-sent events. Each event is
// named after the realtime event and carries the full envelope as data.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, tenantID, userID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// The stream outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	s := h.Join(tenantID, userID)
	defer h.Leave(s)

	metrics.SessionOpened("sse")
	defer metrics.SessionClosed("sse")

	log := h.logger.With(zap.String("tenant_id", tenantID), zap.String("user_id", userID))
	log.Debug("sse session opened")

	writeSSE(w, flusher, "connected", map[string]string{"tenant_id": tenantID})

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("sse session closed")
			return

		case data, ok := <-s.Events():
			if !ok {
				writeSSE(w, flusher, "error", &model.ErrorEvent{
					Code:    "session_closed",
					Message: "session closed by server, reconnect to resume",
				})
				return
			}
			fmt.Fprintf(w, "event: %s\n", model.EventNewMessage)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

		case <-heartbeat.C:
			writeSSE(w, flusher, "heartbeat", &model.HeartbeatEvent{Timestamp: time.Now().UTC()})
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
