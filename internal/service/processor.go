package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zapcrm/zapcrm/internal/model"
	"github.com/zapcrm/zapcrm/internal/store"
	"github.com/zapcrm/zapcrm/pkg/logger"
	"github.com/zapcrm/zapcrm/pkg/metrics"
)

// ProcessorStore is the persistence the Processor needs.
type ProcessorStore interface {
	ConnectionByChannel(ctx context.Context, phoneNumberID string) (*model.Connection, error)
	UpsertContact(ctx context.Context, tenantID, waID, name string) (*model.Contact, error)
	CreateMessage(ctx context.Context, m *model.Message) (bool, error)
}

// Replier sends the automated reply.
type Replier interface {
	Send(ctx context.Context, in SendInput) (*model.Message, error)
}

// ProcessorConfig tunes the auto-reply stage.
type ProcessorConfig struct {
	// ReplyDelay is the pause before the canned reply goes out.
	ReplyDelay time.Duration
	// ReplyTimeout bounds the whole auto-reply stage.
	ReplyTimeout time.Duration
}

// Processor turns one queued webhook delivery into a persisted inbound
// message, then fans it out and answers the menu keyword.
type Processor struct {
	store       ProcessorStore
	replier     Replier
	broadcaster Broadcaster
	cfg         ProcessorConfig
	logger      *logger.Logger

	replies sync.WaitGroup
}

// NewProcessor creates a processor.
func NewProcessor(st ProcessorStore, replier Replier, b Broadcaster, cfg ProcessorConfig, log *logger.Logger) *Processor {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = cfg.ReplyDelay + 30*time.Second
	}
	return &Processor{
		store:       st,
		replier:     replier,
		broadcaster: b,
		cfg:         cfg,
		logger:      log,
	}
}

// Process handles one job. A returned error means the inbound message was
// not persisted; errors wrapped with model.Permanent will not succeed on retry.
// Broadcast and auto-reply failures never surface here.
func (p *Processor) Process(ctx context.Context, job *model.Job) error {
	log := p.logger.WithJob(job.ID, job.ChannelID)

	in, err := model.ParseInbound(job.Payload)
	if err != nil {
		return model.Permanent(fmt.Errorf("parse payload: %w", err))
	}

	conn, err := p.store.ConnectionByChannel(ctx, job.ChannelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Permanent(fmt.Errorf("no connection for channel %s", job.ChannelID))
		}
		return fmt.Errorf("resolve connection: %w", err)
	}
	log = log.With(zap.String("tenant_id", conn.TenantID))

	contact, err := p.store.UpsertContact(ctx, conn.TenantID, in.WaID, in.ContactName)
	if err != nil {
		return err
	}

	msg := &model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  conn.TenantID,
		ContactID: contact.ID,
		ChannelID: conn.PhoneNumberID,
		Content:   in.Body,
		Kind:      in.Kind,
		Direction: model.DirectionIncoming,
		Timestamp: in.Timestamp,
	}
	if in.ProviderMessageID != "" {
		id := in.ProviderMessageID
		msg.ProviderMessageID = &id
	}

	created, err := p.store.CreateMessage(ctx, msg)
	if err != nil {
		return err
	}
	if !created {
		log.Info("duplicate delivery, already persisted", zap.String("provider_message_id", in.ProviderMessageID))
		return nil
	}
	metrics.MessagesTotal.WithLabelValues(string(model.DirectionIncoming)).Inc()
	log.Info("inbound message persisted",
		zap.String("message_id", msg.ID),
		zap.String("contact_id", contact.ID),
	)

	if err := p.broadcaster.Broadcast(ctx, msg); err != nil {
		log.Warn("broadcast failed", zap.String("message_id", msg.ID), zap.Error(err))
	}

	if reply, ok := Reply(in.Kind, in.Body, contact.Name); ok {
		p.autoReply(ctx, log, SendInput{
			TenantID:  conn.TenantID,
			To:        contact.WaID,
			Content:   reply,
			Kind:      model.KindText,
			ChannelID: conn.PhoneNumberID,
		})
	}

	return nil
}

// autoReply sends the canned reply on its own goroutine so a slow provider
// never holds the job.
func (p *Processor) autoReply(parent context.Context, log *logger.Logger, in SendInput) {
	metrics.BotReplies.Inc()
	p.replies.Add(1)

	go func() {
		defer p.replies.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("auto-reply panicked", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), p.cfg.ReplyTimeout)
		defer cancel()

		if p.cfg.ReplyDelay > 0 {
			timer := time.NewTimer(p.cfg.ReplyDelay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		}

		msg, err := p.replier.Send(ctx, in)
		if err != nil {
			log.Error("auto-reply failed", zap.Error(err))
			return
		}
		if msg != nil {
			log.Info("auto-reply sent", zap.String("message_id", msg.ID))
		}
	}()
}

// Wait blocks until in-flight auto-replies finish.
func (p *Processor) Wait() {
	p.replies.Wait()
}
