package model

import (
	"strings"
	"time"
)

// StatusOpen is the pipeline stage every new contact starts in.
const StatusOpen = "OPEN"

// StatusClosed triggers the tenant webhook notification.
const StatusClosed = "CLOSED"

// Contact is a remote party, unique per (tenant, wa_id).
type Contact struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	TenantID  string    `json:"tenant_id" gorm:"size:64;not null;uniqueIndex:idx_contacts_tenant_wa"`
	WaID      string    `json:"whatsapp_number" gorm:"column:wa_id;size:32;not null;uniqueIndex:idx_contacts_tenant_wa"`
	Name      string    `json:"name"`
	Status    string    `json:"status" gorm:"size:32;not null;default:OPEN"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []Message `json:"messages,omitempty" gorm:"-"`
}

// UpdateStatusRequest moves a contact to another pipeline stage.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// NormalizeStatus upper-cases and trims a pipeline stage name.
func NormalizeStatus(status string) string {
	return strings.ToUpper(strings.TrimSpace(status))
}

// ContactEvent is the body posted to a tenant's webhook URL.
type ContactEvent struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      *Contact  `json:"data"`
}
