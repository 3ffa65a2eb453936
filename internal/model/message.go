package model

import (
	"time"
)

// Kind is the content type of a message.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindAudio, KindVideo, KindDocument:
		return true
	}
	return false
}

// Direction tells whether a message was received or sent.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Message is an immutable record of one message in a contact's thread.
type Message struct {
	// Identity
	ID                string  `json:"id" gorm:"primaryKey;size:64"`
	TenantID          string  `json:"tenant_id" gorm:"size:64;not null;uniqueIndex:idx_messages_tenant_provider"`
	ContactID         string  `json:"contact_id" gorm:"size:64;not null;index:idx_messages_contact_ts"`
	ChannelID         string  `json:"channel_id,omitempty" gorm:"size:64"`
	ProviderMessageID *string `json:"provider_message_id,omitempty" gorm:"size:128;uniqueIndex:idx_messages_tenant_provider"`

	// Content
	Content   string    `json:"content" gorm:"type:text"`
	Kind      Kind      `json:"message_type" gorm:"column:kind;size:16;not null"`
	Direction Direction `json:"direction" gorm:"size:16;not null"`

	// Timestamps
	Timestamp time.Time `json:"timestamp" gorm:"not null;index:idx_messages_contact_ts"`
	CreatedAt time.Time `json:"created_at"`

	// Present only for messages sent by a human agent.
	SentByUserID *string `json:"sent_by_user_id,omitempty" gorm:"size:64"`
}

// SendMessageRequest is the request to send a message to a contact.
type SendMessageRequest struct {
	To        string `json:"to"`
	Content   string `json:"content"`
	Kind      Kind   `json:"kind,omitempty"`
	Caption   string `json:"caption,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Status  string   `json:"status"`
	Message *Message `json:"message,omitempty"`
}

// ListContactsResponse is the response for listing contacts.
type ListContactsResponse struct {
	Contacts []Contact `json:"contacts"`
	Total    int       `json:"total"`
}

// ListMessagesResponse is the response for listing a contact's thread.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}
