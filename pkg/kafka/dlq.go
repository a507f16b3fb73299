package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// DeadLetterPrefix is the prefix of dead-letter topics.
const DeadLetterPrefix = TopicPrefix + ".dlq"

// DeadLetterTopic returns the dead-letter topic for a source topic.
func DeadLetterTopic(topic string) string {
	return DeadLetterPrefix + "." + topic
}

// DeadLetter publishes messages a consumer gave up on, keeping the original
// key and payload and recording where they came from in headers.
type DeadLetter struct {
	writer messageWriter
	group  string
	logger *slog.Logger
}

// NewDeadLetter creates a dead-letter publisher for consumer group.
func NewDeadLetter(brokers []string, group string, l *slog.Logger) *DeadLetter {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    1,
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &DeadLetter{writer: w, group: group, logger: l}
}

// Publish sends msg to its dead-letter topic.
func (d *DeadLetter) Publish(ctx context.Context, msg kafka.Message, cause error) error {
	topic := DeadLetterTopic(msg.Topic)

	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq.original_topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "dlq.original_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "dlq.original_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: "dlq.consumer_group", Value: []byte(d.group)},
	)
	if cause != nil {
		headers = append(headers, kafka.Header{Key: "dlq.error", Value: []byte(cause.Error())})
	}

	err := d.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		d.logger.Error("failed to publish message to dead-letter topic",
			slog.String("dlq_topic", topic),
			slog.String("original_topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	d.logger.Warn("message sent to dead-letter topic",
		slog.String("dlq_topic", topic),
		slog.String("original_topic", msg.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)
	return nil
}

// Close closes the writer.
func (d *DeadLetter) Close() error {
	return d.writer.Close()
}
