package service

import (
	"context"
	"fmt"

	"github.com/zapcrm/zapcrm/internal/model"
)

// SettingsStore is the persistence the settings service needs.
type SettingsStore interface {
	SaveConnection(ctx context.Context, c *model.Connection) error
	SaveTenant(ctx context.Context, t *model.Tenant) error
	TenantByID(ctx context.Context, tenantID string) (*model.Tenant, error)
}

// Sealer encrypts credentials before they are stored.
type Sealer interface {
	Seal(plaintext string) (string, error)
}

// SettingsService manages a tenant's connections and webhook URL.
type SettingsService struct {
	store  SettingsStore
	sealer Sealer
}

// NewSettingsService creates a settings service.
func NewSettingsService(st SettingsStore, sealer Sealer) *SettingsService {
	return &SettingsService{store: st, sealer: sealer}
}

// RegisterConnection creates or rotates the connection for a channel. The
// access token is encrypted before it reaches the store.
func (s *SettingsService) RegisterConnection(ctx context.Context, tenantID string, req *model.RegisterConnectionRequest) (*model.Connection, error) {
	sealed, err := s.sealer.Seal(req.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("seal credential: %w", err)
	}

	conn := &model.Connection{
		TenantID:             tenantID,
		PhoneNumberID:        req.PhoneNumberID,
		AccessTokenEncrypted: sealed,
		DisplayName:          req.DisplayName,
	}
	if err := s.store.SaveConnection(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// UpdateTenant sets the tenant's display name and webhook URL.
func (s *SettingsService) UpdateTenant(ctx context.Context, tenantID string, req *model.UpdateTenantRequest) (*model.Tenant, error) {
	t := &model.Tenant{
		ID:         tenantID,
		Name:       req.Name,
		WebhookURL: req.WebhookURL,
	}
	if err := s.store.SaveTenant(ctx, t); err != nil {
		return nil, err
	}
	return s.store.TenantByID(ctx, tenantID)
}
