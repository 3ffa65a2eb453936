package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zapcrm/zapcrm/internal/model"
	"github.com/zapcrm/zapcrm/pkg/logger"
	"github.com/zapcrm/zapcrm/pkg/metrics"
)

// Enqueuer durably queues a webhook delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *model.Job) error
}

// WebhookHandler receives provider callbacks.
type WebhookHandler struct {
	queue          Enqueuer
	verifyToken    string
	enqueueTimeout time.Duration
	logger         *logger.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(q Enqueuer, verifyToken string, enqueueTimeout time.Duration, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		queue:          q,
		verifyToken:    verifyToken,
		enqueueTimeout: enqueueTimeout,
		logger:         log,
	}
}

var webhookAck = map[string]string{"status": "OK"}

// Verify handles GET /v1/meta/webhook, the subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	param := func(name string) string {
		if v := q.Get("hub." + name); v != "" {
			return v
		}
		return q.Get(name)
	}

	mode := param("mode")
	token := param("verify_token")
	challenge := param("challenge")

	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		h.logger.Warn("webhook verification rejected", zap.String("mode", mode))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// Receive handles POST /v1/meta/webhook. The provider always gets a success
// acknowledgment. Deliveries without a channel identifier or without a message
// (status receipts) are not enqueued, and enqueue failures are logged.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("invalid").Inc()
		h.logger.Warn("failed to read webhook body", zap.Error(err))
		writeJSON(w, http.StatusOK, webhookAck)
		return
	}

	var payload model.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.WebhookDeliveries.WithLabelValues("invalid").Inc()
		h.logger.Warn("invalid webhook payload", zap.Error(err))
		writeJSON(w, http.StatusOK, webhookAck)
		return
	}

	channelID := payload.ChannelID()
	if channelID == "" {
		metrics.WebhookDeliveries.WithLabelValues("ignored").Inc()
		h.logger.Debug("webhook without channel identifier ignored")
		writeJSON(w, http.StatusOK, webhookAck)
		return
	}

	if !payload.HasMessage() {
		metrics.WebhookDeliveries.WithLabelValues("status").Inc()
		h.logger.Debug("webhook without message acknowledged", zap.String("channel_id", channelID))
		writeJSON(w, http.StatusOK, webhookAck)
		return
	}

	job := &model.Job{
		ID:                uuid.NewString(),
		ChannelID:         channelID,
		ProviderMessageID: payload.MessageID(),
		Payload:           json.RawMessage(body),
		ReceivedAt:        time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.enqueueTimeout)
	defer cancel()

	if err := h.queue.Enqueue(ctx, job); err != nil {
		metrics.WebhookDeliveries.WithLabelValues("enqueue_failed").Inc()
		h.logger.Error("failed to enqueue webhook delivery",
			zap.String("job_id", job.ID),
			zap.String("channel_id", channelID),
			zap.String("provider_message_id", job.ProviderMessageID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, webhookAck)
		return
	}

	metrics.WebhookDeliveries.WithLabelValues("enqueued").Inc()
	h.logger.Debug("webhook delivery enqueued",
		zap.String("job_id", job.ID),
		zap.String("channel_id", channelID),
	)
	writeJSON(w, http.StatusOK, webhookAck)
}
