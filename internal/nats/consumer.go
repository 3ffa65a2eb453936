package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zapcrm/zapcrm/internal/model"
	"github.com/zapcrm/zapcrm/internal/worker"
	"github.com/zapcrm/zapcrm/pkg/logger"
	"github.com/zapcrm/zapcrm/pkg/metrics"
)

// Dead-letter headers.
const (
	HeaderJobError    = "Job-Error"
	HeaderJobAttempts = "Job-Attempts"
	HeaderJobChannel  = "Job-Channel"
)

var errAbandoned = errors.New("job abandoned: delivery limit reached without settlement")

// Handler processes one job. Errors wrapped with model.Permanent skip retries.
type Handler func(ctx context.Context, job *model.Job) error

// Dispatcher runs a job on an ordered worker slot.
type Dispatcher interface {
	TryDispatch(job worker.Job) bool
}

// Delivery is one received queue message. jetstream.Msg satisfies it.
type Delivery interface {
	Data() []byte
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	Nak() error
	NakWithDelay(delay time.Duration) error
	InProgress() error
	Term() error
}

// MsgPublisher publishes dead-lettered jobs.
type MsgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// ConsumerConfig tunes delivery and retry behavior.
type ConsumerConfig struct {
	AckWait        time.Duration
	MaxDeliver     int
	MaxAckPending  int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	JobTimeout     time.Duration
}

// Consumer pulls jobs from the inbound stream and settles each one after the
// handler returns.
type Consumer struct {
	js      jetstream.JetStream
	dlq     MsgPublisher
	pool    Dispatcher
	handler Handler
	cfg     ConsumerConfig
	logger  *logger.Logger

	mu  sync.Mutex
	cc  jetstream.ConsumeContext
	now func() time.Time
}

// NewConsumer creates a consumer. Call Start to begin receiving.
func NewConsumer(js jetstream.JetStream, pool Dispatcher, handler Handler, cfg ConsumerConfig, log *logger.Logger) *Consumer {
	if cfg.MaxDeliver < 1 {
		cfg.MaxDeliver = 1
	}
	return &Consumer{
		js:      js,
		dlq:     js,
		pool:    pool,
		handler: handler,
		cfg:     cfg,
		logger:  log,
		now:     time.Now,
	}
}

// Start binds the durable consumer and begins dispatching deliveries.
func (c *Consumer) Start(ctx context.Context) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, InboundStream, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		Description:   "Inbound message processor",
		FilterSubject: inboundPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.deliveryLimit(),
		MaxAckPending: c.cfg.MaxAckPending,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.receive(msg)
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		c.logger.Warn("consume error", zap.Error(err))
	}))
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.mu.Lock()
	c.cc = cc
	c.mu.Unlock()

	c.logger.Info("queue consumer started",
		zap.String("stream", InboundStream),
		zap.String("consumer", ConsumerName),
		zap.Int("max_deliver", c.cfg.MaxDeliver),
		zap.Duration("ack_wait", c.cfg.AckWait),
	)
	return nil
}

// Stop stops receiving new deliveries. Jobs already dispatched keep running.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cc != nil {
		c.cc.Stop()
		c.cc = nil
	}
}

func (c *Consumer) receive(d Delivery) {
	var job model.Job
	if err := json.Unmarshal(d.Data(), &job); err != nil {
		// Undecodable jobs are settled inline; there is no channel to order by.
		c.settle(context.Background(), d, &job, attempts(d), model.Permanent(err), c.now())
		return
	}

	// Queued jobs keep their delivery alive so a long wait does not turn into
	// a redelivery.
	stop := c.keepAlive(d)
	ok := c.pool.TryDispatch(worker.Job{
		Key: job.ChannelID,
		Handler: func(ctx context.Context) error {
			return c.handle(ctx, d, &job, stop)
		},
	})
	if !ok {
		stop()
		c.reject(d, &job)
	}
}

// reject returns a delivery the pool would not take. The shard queues hold at
// least MaxAckPending jobs, so this only happens while the pool is stopping.
// The final delivery is dead-lettered because the queue would never offer it
// again.
func (c *Consumer) reject(d Delivery, job *model.Job) {
	metrics.JobsTotal.WithLabelValues("rejected").Inc()
	n := attempts(d)
	if n >= c.deliveryLimit() {
		c.settle(context.Background(), d, job, n, model.Permanent(errAbandoned), c.now())
		return
	}
	if err := d.Nak(); err != nil {
		c.logger.Warn("failed to nak rejected job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// keepAlive resets the ack timer every half AckWait until the returned
// function is called.
func (c *Consumer) keepAlive(d Delivery) func() {
	if c.cfg.AckWait <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.cfg.AckWait / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = d.InProgress()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// deliveryLimit is the JetStream MaxDeliver. The handler runs on deliveries up
// to MaxDeliver+1, which leaves one delivery of slack for a job that never
// reached it. The last delivery only dead-letters, so a job that keeps
// taking the process down still leaves the work queue.
func (c *Consumer) deliveryLimit() int {
	return c.cfg.MaxDeliver + 2
}

// handle runs the handler for one delivery and settles it.
func (c *Consumer) handle(ctx context.Context, d Delivery, job *model.Job, stop func()) error {
	defer stop()
	start := c.now()
	n := attempts(d)

	if n >= c.deliveryLimit() {
		stop()
		return c.settle(ctx, d, job, n, model.Permanent(errAbandoned), start)
	}

	ctx, span := otel.Tracer("zapcrm/queue").Start(ctx, "job.process", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.channel_id", job.ChannelID),
		attribute.Int("job.attempt", n),
	)
	defer span.End()

	jobCtx := ctx
	if c.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, c.cfg.JobTimeout)
		defer cancel()
	}

	err := c.handler(jobCtx, job)
	stop()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return c.settle(ctx, d, job, n, err, start)
}

// settle acknowledges, retries or dead-letters a delivery. A job is never
// dropped: if the dead-letter publish fails the delivery is negatively
// acknowledged so the queue keeps it.
func (c *Consumer) settle(ctx context.Context, d Delivery, job *model.Job, n int, err error, start time.Time) error {
	log := c.logger.WithJob(job.ID, job.ChannelID).With(zap.Int("attempt", n))
	elapsed := c.now().Sub(start).Seconds()

	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			log.Warn("failed to ack job", zap.Error(ackErr))
		}
		metrics.RecordJob("ack", elapsed)
		return nil
	}

	permanent := model.IsPermanent(err)
	if !permanent && n < c.cfg.MaxDeliver {
		delay := c.retryDelay(n)
		log.Warn("job failed, retrying", zap.Duration("delay", delay), zap.Error(err))
		if nakErr := d.NakWithDelay(delay); nakErr != nil {
			log.Warn("failed to nak job", zap.Error(nakErr))
		}
		metrics.RecordJob("retry", elapsed)
		return err
	}

	reason := "exhausted"
	if permanent {
		reason = "permanent"
	}

	if dlErr := c.deadLetter(ctx, d, job, n, err); dlErr != nil {
		log.Error("failed to dead-letter job, leaving it queued", zap.Error(dlErr), zap.NamedError("cause", err))
		if nakErr := d.Nak(); nakErr != nil {
			log.Warn("failed to nak job", zap.Error(nakErr))
		}
		metrics.RecordJob("retry", elapsed)
		return err
	}

	if termErr := d.Term(); termErr != nil {
		log.Warn("failed to terminate dead-lettered job", zap.Error(termErr))
	}
	metrics.DeadLetters.WithLabelValues(reason).Inc()
	metrics.RecordJob("dead_letter", elapsed)
	log.Error("job dead-lettered", zap.String("reason", reason), zap.Error(err))
	return err
}

func (c *Consumer) deadLetter(ctx context.Context, d Delivery, job *model.Job, n int, cause error) error {
	msg := nats.NewMsg(DeadLetterSubject(job.ChannelID))
	msg.Data = d.Data()
	msg.Header.Set(HeaderJobError, cause.Error())
	msg.Header.Set(HeaderJobAttempts, strconv.Itoa(n))
	msg.Header.Set(HeaderJobChannel, job.ChannelID)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := c.dlq.PublishMsg(pubCtx, msg)
	return err
}

// retryDelay is the exponential backoff before attempt n+1.
func (c *Consumer) retryDelay(n int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffInitial
	b.MaxInterval = c.cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < n; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func attempts(d Delivery) int {
	meta, err := d.Metadata()
	if err != nil || meta == nil || meta.NumDelivered == 0 {
		return 1
	}
	return int(meta.NumDelivered)
}
