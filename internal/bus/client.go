// Package bus is a thin event-bus client over NATS JetStream. It exposes the
// two named queues the engine runs on: scheduler_queue carries lifecycle
// events into the scheduler, compute_queue carries task-group payloads to the
// compute workers. Delivery is at-least-once; handlers must be idempotent.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/netbase/engine/internal/retry"
)

const (
	// SchedulerQueue carries scheduler lifecycle events.
	SchedulerQueue = "scheduler_queue"
	// ComputeQueue carries task-group payloads.
	ComputeQueue = "compute_queue"

	schedulerStream = "SCHEDULER_QUEUE"
	computeStream   = "COMPUTE_QUEUE"

	defaultMaxDeliver = 5
)

// Handler consumes one message. A nil return acknowledges the message; an
// error schedules a redelivery with backoff until the delivery cap, after
// which the message is parked in the dead-letter sink.
type Handler func(ctx context.Context, data []byte) error

// DeadLetterSink receives messages that exhausted their redeliveries.
type DeadLetterSink interface {
	Park(ctx context.Context, queue string, data []byte, reason string) error
}

// Client wraps a NATS JetStream connection with the engine's queue contract.
type Client struct {
	nc         *nats.Conn
	js         nats.JetStreamContext
	backoff    retry.Strategy
	maxDeliver int
	deadLetter DeadLetterSink
	logger     zerolog.Logger
	subs       []*nats.Subscription

	// ctx is handed to handlers and cancelled by Close, so in-flight work
	// observes process shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithBackoff overrides the redelivery backoff strategy.
func WithBackoff(s retry.Strategy) Option {
	return func(c *Client) { c.backoff = s }
}

// WithMaxDeliver overrides the delivery attempt cap.
func WithMaxDeliver(n int) Option {
	return func(c *Client) { c.maxDeliver = n }
}

// WithDeadLetter installs a sink for messages that exhausted redelivery.
func WithDeadLetter(sink DeadLetterSink) Option {
	return func(c *Client) { c.deadLetter = sink }
}

// NewClient connects to NATS and ensures both work-queue streams exist.
func NewClient(natsURL string, logger zerolog.Logger, opts ...Option) (*Client, error) {
	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &Client{
		nc:         nc,
		js:         js,
		backoff:    retry.DefaultExponentialBackoff(),
		maxDeliver: defaultMaxDeliver,
		logger:     logger.With().Str("component", "bus").Logger(),
	}
	client.ctx, client.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(client)
	}

	if err := client.initStreams(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}
	return client, nil
}

// initStreams creates the work-queue streams when absent.
func (c *Client) initStreams() error {
	streams := []nats.StreamConfig{
		{
			Name:      schedulerStream,
			Subjects:  []string{SchedulerQueue},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    24 * time.Hour,
		},
		{
			Name:      computeStream,
			Subjects:  []string{ComputeQueue},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    24 * time.Hour,
		},
	}

	for _, cfg := range streams {
		if _, err := c.js.AddStream(&cfg); err != nil && err != nats.ErrStreamNameAlreadyInUse {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Publish marshals payload as JSON and publishes it on the named queue.
func (c *Client) Publish(ctx context.Context, queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", queue, err)
	}

	if _, err := c.js.Publish(queue, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", queue, err)
	}

	c.logger.Debug().Str("queue", queue).Int("bytes", len(data)).Msg("published message")
	return nil
}

// SubscribeOptions tunes a subscription.
type SubscribeOptions struct {
	// Durable names the JetStream consumer. Required.
	Durable string
	// QueueGroup spreads messages across processes sharing the group.
	QueueGroup string
	// MaxAckPending limits in-flight messages per consumer; 1 gives the
	// near-serial draining the scheduler prefers.
	MaxAckPending int
	// AckWait is how long the server waits for an ack before redelivering.
	AckWait time.Duration
}

// Subscribe attaches handler to the named queue. Handler errors trigger
// redelivery with backoff; once the delivery cap is reached the message is
// parked in the dead-letter sink (when configured) and acked.
func (c *Client) Subscribe(queue string, handler Handler, opts SubscribeOptions) error {
	if opts.Durable == "" {
		return fmt.Errorf("subscription to %s requires a durable name", queue)
	}
	if opts.AckWait == 0 {
		opts.AckWait = 5 * time.Minute
	}

	subOpts := []nats.SubOpt{
		nats.Durable(opts.Durable),
		nats.ManualAck(),
		nats.AckWait(opts.AckWait),
		nats.MaxDeliver(c.maxDeliver + 1), // +1 leaves room to park the final attempt
	}
	if opts.MaxAckPending > 0 {
		subOpts = append(subOpts, nats.MaxAckPending(opts.MaxAckPending))
	}

	cb := func(msg *nats.Msg) { c.dispatch(queue, handler, msg) }

	var (
		sub *nats.Subscription
		err error
	)
	if opts.QueueGroup != "" {
		sub, err = c.js.QueueSubscribe(queue, opts.QueueGroup, cb, subOpts...)
	} else {
		sub, err = c.js.Subscribe(queue, cb, subOpts...)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", queue, err)
	}

	c.subs = append(c.subs, sub)
	c.logger.Info().Str("queue", queue).Str("durable", opts.Durable).Msg("subscribed")
	return nil
}

// dispatch runs the handler and translates its outcome into ack/nak/park.
func (c *Client) dispatch(queue string, handler Handler, msg *nats.Msg) {
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	err := handler(c.ctx, msg.Data)
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Error().Err(ackErr).Str("queue", queue).Msg("failed to ack message")
		}
		return
	}

	if c.backoff.ShouldRetry(attempt, c.maxDeliver) {
		delay := c.backoff.NextDelay(attempt)
		c.logger.Warn().Err(err).
			Str("queue", queue).
			Int("attempt", attempt).
			Dur("redeliver_in", delay).
			Msg("handler failed, scheduling redelivery")
		if nakErr := msg.NakWithDelay(delay); nakErr != nil {
			c.logger.Error().Err(nakErr).Str("queue", queue).Msg("failed to nak message")
		}
		return
	}

	c.logger.Error().Err(err).
		Str("queue", queue).
		Int("attempt", attempt).
		Msg("handler failed on final delivery, parking message")

	if c.deadLetter != nil {
		if parkErr := c.deadLetter.Park(context.Background(), queue, msg.Data, err.Error()); parkErr != nil {
			c.logger.Error().Err(parkErr).Str("queue", queue).Msg("failed to park message")
			// Leave unacked so the server redelivers; parking will be retried.
			return
		}
	}
	if ackErr := msg.Ack(); ackErr != nil {
		c.logger.Error().Err(ackErr).Str("queue", queue).Msg("failed to ack parked message")
	}
}

// Close cancels in-flight handlers, drains subscriptions and closes the
// connection.
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to unsubscribe")
		}
	}
	if c.nc != nil {
		c.nc.Close()
	}
}
