package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zapcrm/zapcrm/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the GORM-backed persistence layer.
type Store struct {
	db *gorm.DB
}

// New creates a store over an open database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// TenantByID returns a tenant.
func (s *Store) TenantByID(ctx context.Context, tenantID string) (*model.Tenant, error) {
	var t model.Tenant
	if err := s.db.WithContext(ctx).First(&t, "id = ?", tenantID).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// SaveTenant creates a tenant or updates its name and webhook URL.
func (s *Store) SaveTenant(ctx context.Context, t *model.Tenant) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"name":        t.Name,
			"webhook_url": t.WebhookURL,
			"updated_at":  time.Now().UTC(),
		}),
	}).Create(t).Error
}

// ConnectionByChannel resolves the connection bound to a channel identifier.
func (s *Store) ConnectionByChannel(ctx context.Context, phoneNumberID string) (*model.Connection, error) {
	var c model.Connection
	if err := s.db.WithContext(ctx).First(&c, "phone_number_id = ?", phoneNumberID).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ConnectionForTenant returns the tenant's connection for channelID, or its
// oldest connection when channelID is empty or unknown to the tenant.
func (s *Store) ConnectionForTenant(ctx context.Context, tenantID, channelID string) (*model.Connection, error) {
	var c model.Connection
	if channelID != "" {
		err := s.db.WithContext(ctx).
			First(&c, "tenant_id = ? AND phone_number_id = ?", tenantID, channelID).Error
		if err == nil {
			return &c, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ErrChannelTaken is returned when a channel identifier is already bound to
// another tenant.
var ErrChannelTaken = errors.New("channel bound to another tenant")

// SaveConnection creates a connection or rotates the credential and display
// name of an existing one. The credential must already be encrypted.
func (s *Store) SaveConnection(ctx context.Context, c *model.Connection) error {
	existing, err := s.ConnectionByChannel(ctx, c.PhoneNumberID)
	switch {
	case err == nil && existing.TenantID != c.TenantID:
		return ErrChannelTaken
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}

	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "phone_number_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"access_token_encrypted": c.AccessTokenEncrypted,
			"display_name":           c.DisplayName,
			"updated_at":             time.Now().UTC(),
		}),
	}).Create(c).Error
	if err != nil {
		return fmt.Errorf("save connection: %w", err)
	}

	stored, err := s.ConnectionByChannel(ctx, c.PhoneNumberID)
	if err != nil {
		return err
	}
	*c = *stored
	return nil
}

// UpsertContact atomically creates the contact or refreshes its display name.
// Status is never modified here.
func (s *Store) UpsertContact(ctx context.Context, tenantID, waID, name string) (*model.Contact, error) {
	now := time.Now().UTC()
	c := &model.Contact{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		WaID:      waID,
		Name:      name,
		Status:    model.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "wa_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"name":       name,
			"updated_at": now,
		}),
	}).Create(c).Error
	if err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}

	return s.ContactByWaID(ctx, tenantID, waID)
}

// ContactByWaID returns a tenant's contact by provider contact identifier.
func (s *Store) ContactByWaID(ctx context.Context, tenantID, waID string) (*model.Contact, error) {
	var c model.Contact
	if err := s.db.WithContext(ctx).First(&c, "tenant_id = ? AND wa_id = ?", tenantID, waID).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ContactByID returns a tenant's contact.
func (s *Store) ContactByID(ctx context.Context, tenantID, contactID string) (*model.Contact, error) {
	var c model.Contact
	if err := s.db.WithContext(ctx).First(&c, "tenant_id = ? AND id = ?", tenantID, contactID).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// UpdateContactStatus sets a contact's pipeline stage and returns the row.
func (s *Store) UpdateContactStatus(ctx context.Context, tenantID, contactID, status string) (*model.Contact, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Contact{}).
		Where("tenant_id = ? AND id = ?", tenantID, contactID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.ContactByID(ctx, tenantID, contactID)
}

// CreateMessage appends a message to a contact's thread. A message whose
// provider id was already stored for the tenant is not inserted again and
// created is false.
func (s *Store) CreateMessage(ctx context.Context, m *model.Message) (created bool, err error) {
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "provider_message_id"}},
			DoNothing: true,
		}).Create(m)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true

		return tx.Model(&model.Contact{}).
			Where("id = ?", m.ContactID).
			UpdateColumn("updated_at", time.Now().UTC()).Error
	})
	if err != nil {
		return false, fmt.Errorf("create message: %w", err)
	}
	return created, nil
}

// ListContacts returns a tenant's contacts, most recently active first, each
// carrying its latest message when it has one.
func (s *Store) ListContacts(ctx context.Context, tenantID string, limit, offset int) ([]model.Contact, int, error) {
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&model.Contact{}).Where("tenant_id = ?", tenantID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var contacts []model.Contact
	err := db.Where("tenant_id = ?", tenantID).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&contacts).Error
	if err != nil {
		return nil, 0, err
	}
	if len(contacts) == 0 {
		return contacts, int(total), nil
	}

	ids := make([]string, len(contacts))
	for i, c := range contacts {
		ids[i] = c.ID
	}

	latest := db.Model(&model.Message{}).
		Select("contact_id, MAX(timestamp) AS ts").
		Where("tenant_id = ? AND contact_id IN ?", tenantID, ids).
		Group("contact_id")

	var last []model.Message
	err = db.Table("messages AS m").
		Select("m.*").
		Joins("JOIN (?) AS latest ON latest.contact_id = m.contact_id AND latest.ts = m.timestamp", latest).
		Where("m.tenant_id = ?", tenantID).
		Order("m.created_at DESC").
		Find(&last).Error
	if err != nil {
		return nil, 0, err
	}

	byContact := make(map[string]model.Message, len(last))
	for _, m := range last {
		if _, seen := byContact[m.ContactID]; !seen {
			byContact[m.ContactID] = m
		}
	}
	for i := range contacts {
		if m, ok := byContact[contacts[i].ID]; ok {
			contacts[i].Messages = []model.Message{m}
		}
	}

	return contacts, int(total), nil
}

// ListThread returns a contact's messages in chronological order.
func (s *Store) ListThread(ctx context.Context, tenantID, contactID string) ([]model.Message, error) {
	if _, err := s.ContactByID(ctx, tenantID, contactID); err != nil {
		return nil, err
	}

	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND contact_id = ?", tenantID, contactID).
		Order("timestamp ASC").
		Order("created_at ASC").
		Find(&msgs).Error
	return msgs, err
}
