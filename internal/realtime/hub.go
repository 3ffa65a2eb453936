// Package realtime fans persisted messages out to the live UI sessions of
// their tenant, locally and across replicas through an optional relay.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zapcrm/zapcrm/internal/model"
	"github.com/zapcrm/zapcrm/pkg/logger"
	"github.com/zapcrm/zapcrm/pkg/metrics"
)

// DefaultBufferSize is the number of events a session may lag behind.
const DefaultBufferSize = 64

// Relay carries encoded events between replicas.
type Relay interface {
	Publish(ctx context.Context, tenantID string, data []byte) error
	// Subscribe delivers relayed events to fn until ctx is done.
	Subscribe(ctx context.Context, fn func(data []byte)) error
}

// Session is one connected UI client, bound to a single tenant.
type Session struct {
	TenantID string
	UserID   string

	send chan []byte
	once sync.Once
}

// Events yields encoded events. It is closed when the session leaves or is
// dropped for falling behind.
func (s *Session) Events() <-chan []byte {
	return s.send
}

func (s *Session) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub keeps the sessions of each tenant.
type Hub struct {
	origin     string
	bufferSize int
	logger     *logger.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Session]struct{}
	relay Relay
}

// NewHub creates a hub. origin identifies this replica on the relay.
func NewHub(origin string, bufferSize int, log *logger.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		origin:     origin,
		bufferSize: bufferSize,
		logger:     log,
		rooms:      make(map[string]map[*Session]struct{}),
	}
}

// SetRelay enables cross-replica fan-out.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Join registers a session in its tenant's room.
func (h *Hub) Join(tenantID, userID string) *Session {
	s := &Session{
		TenantID: tenantID,
		UserID:   userID,
		send:     make(chan []byte, h.bufferSize),
	}

	h.mu.Lock()
	room, ok := h.rooms[tenantID]
	if !ok {
		room = make(map[*Session]struct{})
		h.rooms[tenantID] = room
	}
	room[s] = struct{}{}
	h.mu.Unlock()

	return s
}

// Leave removes a session and closes its event channel.
func (h *Hub) Leave(s *Session) {
	h.mu.Lock()
	h.remove(s)
	h.mu.Unlock()
	s.close()
}

// remove must be called with h.mu held.
func (h *Hub) remove(s *Session) {
	room, ok := h.rooms[s.TenantID]
	if !ok {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(h.rooms, s.TenantID)
	}
}

// Close ends every session so their handlers return.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[*Session]struct{})
	h.mu.Unlock()

	for _, room := range rooms {
		for s := range room {
			s.close()
		}
	}
}

// Sessions returns the number of sessions connected for a tenant.
func (h *Hub) Sessions(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tenantID])
}

// Broadcast delivers a new-message event to the tenant's sessions on every
// replica.
func (h *Hub) Broadcast(ctx context.Context, msg *model.Message) error {
	data, err := json.Marshal(&model.Event{
		Name:     model.EventNewMessage,
		TenantID: msg.TenantID,
		Data:     msg,
		Origin:   h.origin,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	h.deliver(msg.TenantID, data)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return nil
	}
	if err := relay.Publish(ctx, msg.TenantID, data); err != nil {
		metrics.Broadcasts.WithLabelValues("relay_failed").Inc()
		return fmt.Errorf("failed to relay event: %w", err)
	}
	return nil
}

// deliver writes data to the local sessions of a tenant. A session whose
// buffer is full is dropped; its client reconnects and reloads the thread.
func (h *Hub) deliver(tenantID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.rooms[tenantID] {
		select {
		case s.send <- data:
			metrics.Broadcasts.WithLabelValues("delivered").Inc()
		default:
			metrics.Broadcasts.WithLabelValues("dropped").Inc()
			h.logger.Warn("realtime session too slow, dropping",
				zap.String("tenant_id", tenantID),
				zap.String("user_id", s.UserID),
			)
			h.remove(s)
			s.close()
		}
	}
}

// Run consumes relayed events until ctx is done. It returns immediately when
// no relay is configured.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return nil
	}

	return relay.Subscribe(ctx, func(data []byte) {
		var ev model.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			h.logger.Warn("invalid relayed event", zap.Error(err))
			return
		}
		// Our own events were already delivered locally.
		if ev.Origin == h.origin || ev.TenantID == "" {
			return
		}
		h.deliver(ev.TenantID, data)
	})
}
