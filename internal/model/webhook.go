package model

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// WebhookPayload is the subset of a Cloud API callback the pipeline reads.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry is one entry of a callback.
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange is one change of an entry.
type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

// WebhookValue carries routing metadata, contacts and messages. Delivery
// receipts arrive in Statuses with no messages.
type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts"`
	Messages         []WebhookMessage `json:"messages"`
	Statuses         []WebhookStatus  `json:"statuses,omitempty"`
}

// WebhookMetadata identifies the receiving channel.
type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// WebhookContact is the sender's profile.
type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// WebhookMessage is one inbound message.
type WebhookMessage struct {
	ID        string       `json:"id"`
	From      string       `json:"from"`
	Timestamp string       `json:"timestamp"`
	Type      string       `json:"type"`
	Text      *WebhookText `json:"text,omitempty"`
}

// WebhookStatus is a sent, delivered or read receipt for an outbound message.
type WebhookStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// WebhookText is the body of a text message.
type WebhookText struct {
	Body string `json:"body"`
}

var (
	errNoChange  = errors.New("payload has no entry change")
	errNoMessage = errors.New("payload has no message")
	errNoContact = errors.New("payload has no contact")
)

// firstValue returns entry[0].changes[0].value.
func (p *WebhookPayload) firstValue() (*WebhookValue, error) {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return nil, errNoChange
	}
	return &p.Entry[0].Changes[0].Value, nil
}

// ChannelID returns the routing key, or "" for payloads without one.
func (p *WebhookPayload) ChannelID() string {
	v, err := p.firstValue()
	if err != nil {
		return ""
	}
	return v.Metadata.PhoneNumberID
}

// HasMessage reports whether the callback carries an inbound message.
func (p *WebhookPayload) HasMessage() bool {
	v, err := p.firstValue()
	return err == nil && len(v.Messages) > 0
}

// MessageID returns the provider id of the first message, if any.
func (p *WebhookPayload) MessageID() string {
	v, err := p.firstValue()
	if err != nil || len(v.Messages) == 0 {
		return ""
	}
	return v.Messages[0].ID
}

// InboundMessage is the parsed content of one delivery.
type InboundMessage struct {
	ProviderMessageID string
	WaID              string
	ContactName       string
	Kind              Kind
	Body              string
	Timestamp         time.Time
}

// ParseInbound extracts the first message and first contact of a delivery.
func ParseInbound(raw json.RawMessage) (*InboundMessage, error) {
	var p WebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	v, err := p.firstValue()
	if err != nil {
		return nil, err
	}
	if len(v.Messages) == 0 {
		return nil, errNoMessage
	}
	if len(v.Contacts) == 0 {
		return nil, errNoContact
	}

	msg := v.Messages[0]
	contact := v.Contacts[0]
	if contact.WaID == "" {
		return nil, errors.New("contact has no wa_id")
	}

	secs, err := strconv.ParseInt(msg.Timestamp, 10, 64)
	if err != nil {
		return nil, errors.New("invalid message timestamp")
	}

	in := &InboundMessage{
		ProviderMessageID: msg.ID,
		WaID:              contact.WaID,
		ContactName:       contact.Profile.Name,
		Kind:              Kind(msg.Type),
		Timestamp:         time.Unix(secs, 0).UTC(),
	}
	if msg.Text != nil {
		in.Body = msg.Text.Body
	}
	return in, nil
}
