package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// InboundStream holds queued webhook deliveries until they are processed.
	InboundStream = "INBOUND"

	// DeadLetterStream holds jobs that exhausted retries or failed permanently.
	DeadLetterStream = "INBOUND_DLQ"

	// ConsumerName is the durable consumer shared by all processor replicas.
	ConsumerName = "processor"

	inboundPrefix    = "inbound"
	deadLetterPrefix = "deadletter.inbound"
	realtimePrefix   = "realtime"

	// duplicateWindow bounds Nats-Msg-Id deduplication of provider redeliveries.
	duplicateWindow = 10 * time.Minute
)

// JobSubject returns the subject jobs for a channel are published on.
func JobSubject(channelID string) string {
	return inboundPrefix + "." + subjectToken(channelID)
}

// DeadLetterSubject returns the dead-letter subject for a channel.
func DeadLetterSubject(channelID string) string {
	return deadLetterPrefix + "." + subjectToken(channelID)
}

// RealtimeSubject returns the relay subject for a tenant.
func RealtimeSubject(tenantID string) string {
	return realtimePrefix + "." + subjectToken(tenantID)
}

// subjectToken makes s safe to use as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// EnsureStreams creates the inbound and dead-letter streams when missing.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	configs := []jetstream.StreamConfig{
		{
			Name:        InboundStream,
			Subjects:    []string{inboundPrefix + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Duplicates:  duplicateWindow,
			MaxAge:      7 * 24 * time.Hour,
			Description: "Inbound webhook deliveries awaiting processing",
		},
		{
			Name:        DeadLetterStream,
			Subjects:    []string{deadLetterPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			MaxAge:      30 * 24 * time.Hour,
			Description: "Inbound jobs held for manual inspection",
		},
	}

	for _, cfg := range configs {
		_, err := js.Stream(ctx, cfg.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return fmt.Errorf("failed to look up stream %s: %w", cfg.Name, err)
		}
		if _, err := js.CreateStream(ctx, cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}
