package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/zapcrm/zapcrm/internal/model"
)

// Publisher is the subset of JetStream used to enqueue jobs.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Queue enqueues jobs on the inbound stream.
type Queue struct {
	js Publisher
}

// NewQueue creates a queue publishing through js.
func NewQueue(js Publisher) *Queue {
	return &Queue{js: js}
}

// Enqueue durably stores job. Jobs carrying a provider message id are
// deduplicated by the stream for redeliveries inside the duplicate window.
func (q *Queue) Enqueue(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	var opts []jetstream.PublishOpt
	if job.ProviderMessageID != "" {
		opts = append(opts, jetstream.WithMsgID(job.ChannelID+":"+job.ProviderMessageID))
	}

	if _, err := q.js.Publish(ctx, JobSubject(job.ChannelID), data, opts...); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}
