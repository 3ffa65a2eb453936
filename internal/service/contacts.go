package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/zapcrm/zapcrm/internal/model"
	"github.com/zapcrm/zapcrm/internal/store"
	"github.com/zapcrm/zapcrm/pkg/logger"
	"github.com/zapcrm/zapcrm/pkg/metrics"
)

// ContactStore is the persistence the contact service needs.
type ContactStore interface {
	ListContacts(ctx context.Context, tenantID string, limit, offset int) ([]model.Contact, int, error)
	ListThread(ctx context.Context, tenantID, contactID string) ([]model.Message, error)
	UpdateContactStatus(ctx context.Context, tenantID, contactID, status string) (*model.Contact, error)
	TenantByID(ctx context.Context, tenantID string) (*model.Tenant, error)
}

// Notifier tells a tenant's system about contact changes.
type Notifier interface {
	ContactUpdated(ctx context.Context, url string, contact *model.Contact) error
}

// ContactService serves contact reads and pipeline status changes.
type ContactService struct {
	store    ContactStore
	notifier Notifier
	logger   *logger.Logger
}

// NewContactService creates a contact service.
func NewContactService(st ContactStore, n Notifier, log *logger.Logger) *ContactService {
	return &ContactService{store: st, notifier: n, logger: log}
}

// List returns contacts with their latest message, most recently active first.
func (s *ContactService) List(ctx context.Context, tenantID string, limit, offset int) (*model.ListContactsResponse, error) {
	contacts, total, err := s.store.ListContacts(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	return &model.ListContactsResponse{Contacts: contacts, Total: total}, nil
}

// Thread returns a contact's messages in chronological order.
func (s *ContactService) Thread(ctx context.Context, tenantID, contactID string) (*model.ListMessagesResponse, error) {
	msgs, err := s.store.ListThread(ctx, tenantID, contactID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return &model.ListMessagesResponse{Messages: msgs}, nil
}

// UpdateStatus moves a contact to status. Closing a contact notifies the
// tenant's webhook once, without retry; a failed notification is only logged.
func (s *ContactService) UpdateStatus(ctx context.Context, tenantID, contactID, status string) (*model.Contact, error) {
	status = model.NormalizeStatus(status)

	contact, err := s.store.UpdateContactStatus(ctx, tenantID, contactID, status)
	if err != nil {
		return nil, err
	}

	if status == model.StatusClosed {
		s.notifyClosed(ctx, contact)
	}
	return contact, nil
}

func (s *ContactService) notifyClosed(ctx context.Context, contact *model.Contact) {
	log := s.logger.With(zap.String("tenant_id", contact.TenantID), zap.String("contact_id", contact.ID))

	tenant, err := s.store.TenantByID(ctx, contact.TenantID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("failed to load tenant for notification", zap.Error(err))
		}
		return
	}
	if tenant.WebhookURL == "" {
		return
	}

	if err := s.notifier.ContactUpdated(ctx, tenant.WebhookURL, contact); err != nil {
		metrics.TenantNotifications.WithLabelValues("failed").Inc()
		log.Warn("tenant webhook notification failed", zap.Error(err))
		return
	}
	metrics.TenantNotifications.WithLabelValues("sent").Inc()
}
