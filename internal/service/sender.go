// Package service implements the inbound pipeline and the internal APIs on
// top of the store, the provider client and the realtime hub.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zapcrm/zapcrm/internal/model"
	"github.com/zapcrm/zapcrm/internal/provider"
	"github.com/zapcrm/zapcrm/internal/store"
	"github.com/zapcrm/zapcrm/pkg/logger"
	"github.com/zapcrm/zapcrm/pkg/metrics"
)

// ErrNoConnection is returned when a tenant has no provider channel.
var ErrNoConnection = errors.New("tenant has no whatsapp connection")

// SenderStore is the persistence the Sender needs.
type SenderStore interface {
	ConnectionForTenant(ctx context.Context, tenantID, channelID string) (*model.Connection, error)
	ContactByWaID(ctx context.Context, tenantID, waID string) (*model.Contact, error)
	CreateMessage(ctx context.Context, m *model.Message) (bool, error)
}

// Provider performs the outbound API call.
type Provider interface {
	Send(ctx context.Context, req provider.SendRequest) (string, error)
}

// Opener decrypts stored credentials.
type Opener interface {
	Open(encoded string) (string, error)
}

// Broadcaster notifies live sessions of a persisted message.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg *model.Message) error
}

// SendInput is one outbound message.
type SendInput struct {
	TenantID string
	// UserID is the acting agent; empty for bot replies.
	UserID    string
	To        string
	Content   string
	Kind      model.Kind
	Caption   string
	ChannelID string
}

// Sender calls the provider and records outgoing messages.
type Sender struct {
	store        SenderStore
	provider     Provider
	credentials  Opener
	broadcaster  Broadcaster
	pendingToken string
	logger       *logger.Logger
	now          func() time.Time
}

// NewSender creates a sender. pendingToken is the credential placeholder of
// connections that are not configured yet.
func NewSender(st SenderStore, p Provider, creds Opener, b Broadcaster, pendingToken string, log *logger.Logger) *Sender {
	return &Sender{
		store:        st,
		provider:     p,
		credentials:  creds,
		broadcaster:  b,
		pendingToken: pendingToken,
		logger:       log,
		now:          time.Now,
	}
}

// Send delivers in through the tenant's connection and records it. It
// returns a nil message without error when nothing was recorded: the
// connection is still pending or the recipient is not a known contact.
// Provider failures are logged and do not prevent the record.
func (s *Sender) Send(ctx context.Context, in SendInput) (*model.Message, error) {
	kind := in.Kind
	if kind == "" {
		kind = model.KindText
	}
	log := s.logger.With(
		zap.String("tenant_id", in.TenantID),
		zap.String("to", in.To),
		zap.String("kind", string(kind)),
	)

	conn, err := s.store.ConnectionForTenant(ctx, in.TenantID, in.ChannelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoConnection
		}
		return nil, fmt.Errorf("resolve connection: %w", err)
	}

	token, err := s.credentials.Open(conn.AccessTokenEncrypted)
	if err != nil {
		return nil, fmt.Errorf("open credential for channel %s: %w", conn.PhoneNumberID, err)
	}
	if token == s.pendingToken {
		log.Debug("connection pending, skipping send", zap.String("channel_id", conn.PhoneNumberID))
		metrics.OutboundSends.WithLabelValues(string(kind), "pending").Inc()
		return nil, nil
	}

	providerID := s.call(ctx, log, provider.SendRequest{
		PhoneNumberID: conn.PhoneNumberID,
		AccessToken:   token,
		To:            in.To,
		Kind:          kind,
		Content:       in.Content,
		Caption:       in.Caption,
	})

	contact, err := s.store.ContactByWaID(ctx, in.TenantID, in.To)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("recipient is not a known contact, message not recorded")
			return nil, nil
		}
		return nil, fmt.Errorf("resolve contact: %w", err)
	}

	msg := &model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  in.TenantID,
		ContactID: contact.ID,
		ChannelID: conn.PhoneNumberID,
		Content:   in.Content,
		Kind:      kind,
		Direction: model.DirectionOutgoing,
		Timestamp: s.now().UTC(),
	}
	if providerID != "" {
		msg.ProviderMessageID = &providerID
	}
	if in.UserID != "" {
		userID := in.UserID
		msg.SentByUserID = &userID
	}

	if _, err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(string(model.DirectionOutgoing)).Inc()

	if err := s.broadcaster.Broadcast(ctx, msg); err != nil {
		log.Warn("broadcast failed", zap.String("message_id", msg.ID), zap.Error(err))
	}

	return msg, nil
}

// call performs the provider request and swallows its failure.
func (s *Sender) call(ctx context.Context, log *logger.Logger, req provider.SendRequest) string {
	ctx, span := otel.Tracer("zapcrm/sender").Start(ctx, "provider.send", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("channel_id", req.PhoneNumberID),
		attribute.String("kind", string(req.Kind)),
	)
	defer span.End()

	id, err := s.provider.Send(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.OutboundSends.WithLabelValues(string(req.Kind), "failed").Inc()
		log.Error("provider send failed, recording message anyway",
			zap.String("channel_id", req.PhoneNumberID),
			zap.Error(err),
		)
		return ""
	}
	metrics.OutboundSends.WithLabelValues(string(req.Kind), "sent").Inc()
	return id
}
