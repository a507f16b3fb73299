package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/utafrali/catalogindex/pkg/logger"
)

// maxHandlerRetries bounds how often a message is handed to the handler
// before it is committed and skipped.
const maxHandlerRetries = 3

// Handler processes one event.
type Handler func(ctx context.Context, event *Event) error

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	MinBytes int
	MaxBytes int
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads events from a consumer group and hands them to a Handler.
type Consumer struct {
	reader     messageReader
	group      string
	logger     *slog.Logger
	handler    Handler
	backoff    time.Duration
	deadLetter *DeadLetter
	metrics    *ConsumerMetrics
	closeOnce  sync.Once
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetter forwards malformed messages and messages that failed every
// retry to the dead-letter topic instead of dropping them.
func WithDeadLetter(d *DeadLetter) ConsumerOption {
	return func(c *Consumer) { c.deadLetter = d }
}

// WithConsumerMetrics records consumption in m.
func WithConsumerMetrics(m *ConsumerMetrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

// NewConsumer creates a consumer over the configured topics.
func NewConsumer(cfg ConsumerConfig, handler Handler, l *slog.Logger, opts ...ConsumerOption) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
	})
	c := newConsumer(r, handler, l)
	c.group = cfg.GroupID
	for _, o := range opts {
		o(c)
	}
	return c
}

func newConsumer(r messageReader, handler Handler, l *slog.Logger) *Consumer {
	return &Consumer{reader: r, logger: l, handler: handler, backoff: 100 * time.Millisecond}
}

// Start consumes until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer func() { _ = c.Close() }()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping")
				return nil
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			continue
		}

		c.metrics.received(msg.Topic, c.group)
		if err := c.process(ctx, msg); err != nil {
			c.metrics.failed(msg.Topic, c.group)
			if c.deadLetter != nil {
				if dlqErr := c.deadLetter.Publish(ctx, msg, err); dlqErr == nil {
					c.metrics.deadLettered(msg.Topic, c.group)
				}
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message",
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// process runs the handler with retries. It returns the last error for
// malformed and repeatedly failing messages; the caller commits either way.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to unmarshal event",
			slog.String("topic", msg.Topic),
			slog.String("error", err.Error()),
		)
		return err
	}

	if event.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, event.CorrelationID)
	}
	l := logger.WithContext(ctx, c.logger).With(
		slog.String("topic", msg.Topic),
		slog.String("event_type", event.EventType),
		slog.String("aggregate_id", event.AggregateID),
		slog.Int64("offset", msg.Offset),
	)

	start := time.Now()
	defer func() { c.metrics.observe(msg.Topic, c.group, time.Since(start)) }()

	for attempt := 1; attempt <= maxHandlerRetries; attempt++ {
		err = c.handler(ctx, event)
		if err == nil {
			c.metrics.processed(msg.Topic, c.group)
			return nil
		}
		l.Warn("handler failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == maxHandlerRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}

	l.Error("handler failed after all retries, skipping message", slog.Int("retries", maxHandlerRetries))
	return err
}

// Close closes the consumer. It is safe to call multiple times.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}
