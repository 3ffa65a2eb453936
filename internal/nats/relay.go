package nats

import (
	"context"

	"github.com/nats-io/nats.go"
)

// Relay carries realtime events between replicas over core NATS. Delivery is
// at-most-once; a missed event is recovered by the client reloading a thread.
type Relay struct {
	conn *nats.Conn
}

// NewRelay creates a relay on an existing connection.
func NewRelay(conn *nats.Conn) *Relay {
	return &Relay{conn: conn}
}

// Publish sends data on the tenant's subject.
func (r *Relay) Publish(ctx context.Context, tenantID string, data []byte) error {
	return r.conn.Publish(RealtimeSubject(tenantID), data)
}

// Subscribe receives events for every tenant until ctx is done.
func (r *Relay) Subscribe(ctx context.Context, fn func(data []byte)) error {
	sub, err := r.conn.Subscribe(realtimePrefix+".>", func(m *nats.Msg) {
		fn(m.Data)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}
