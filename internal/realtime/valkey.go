package realtime

import (
	"context"
	"fmt"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"
)

const valkeyChannelPrefix = "zapcrm:realtime:"

// ValkeyConfig holds the Valkey connection settings.
type ValkeyConfig struct {
	Address  string
	Password string
	DB       int
}

// ValkeyRelay relays events over Valkey pub/sub, one channel per tenant.
type ValkeyRelay struct {
	client valkeylib.Client
}

// NewValkeyRelay connects to Valkey and verifies the connection.
func NewValkeyRelay(cfg ValkeyConfig) (*ValkeyRelay, error) {
	client, err := valkeylib.NewClient(valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}

	return &ValkeyRelay{client: client}, nil
}

// Publish sends data on the tenant's channel.
func (v *ValkeyRelay) Publish(ctx context.Context, tenantID string, data []byte) error {
	cmd := v.client.B().Publish().Channel(valkeyChannelPrefix + tenantID).Message(string(data)).Build()
	return v.client.Do(ctx, cmd).Error()
}

// Subscribe receives events for every tenant until ctx is done.
func (v *ValkeyRelay) Subscribe(ctx context.Context, fn func(data []byte)) error {
	cmd := v.client.B().Psubscribe().Pattern(valkeyChannelPrefix + "*").Build()
	err := v.client.Receive(ctx, cmd, func(msg valkeylib.PubSubMessage) {
		fn([]byte(msg.Message))
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases the client.
func (v *ValkeyRelay) Close() {
	v.client.Close()
}
