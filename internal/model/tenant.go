// Package model defines data structures for the messaging pipeline.
package model

import (
	"time"
)

// Tenant is an isolated customer account.
type Tenant struct {
	ID         string    `json:"id" gorm:"primaryKey;size:64"`
	Name       string    `json:"name"`
	Plan       string    `json:"plan" gorm:"size:32;default:FREE"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Connection binds one provider channel to a tenant.
// AccessTokenEncrypted holds the credential as stored; it is only decrypted
// right before an outbound provider call.
type Connection struct {
	ID                   string    `json:"id" gorm:"primaryKey;size:64"`
	TenantID             string    `json:"tenant_id" gorm:"size:64;not null;index"`
	PhoneNumberID        string    `json:"phone_number_id" gorm:"size:64;not null;uniqueIndex"`
	AccessTokenEncrypted string    `json:"-" gorm:"type:text;not null"`
	DisplayName          string    `json:"display_name"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// RegisterConnectionRequest is the request to create or rotate a connection.
type RegisterConnectionRequest struct {
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"access_token"`
	DisplayName   string `json:"display_name"`
}

// UpdateTenantRequest sets the tenant's name and notification URL.
type UpdateTenantRequest struct {
	Name       string `json:"name"`
	WebhookURL string `json:"webhook_url"`
}
