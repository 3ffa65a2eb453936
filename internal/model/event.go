package model

import (
	"time"
)

// EventNewMessage is the realtime event name for a persisted message.
const EventNewMessage = "nova-mensagem"

// Event is one realtime notification delivered to the sessions of a tenant.
type Event struct {
	Name     string   `json:"event"`
	TenantID string   `json:"tenant_id"`
	Data     *Message `json:"data"`

	// Origin identifies the replica that produced the event; relays use it
	// to drop their own echoes.
	Origin string `json:"origin,omitempty"`
}

// HeartbeatEvent keeps idle realtime sessions alive.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
