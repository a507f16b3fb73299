package kafka

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConsumerMetrics counts what consumers did with the messages they fetched.
// A nil *ConsumerMetrics records nothing.
type ConsumerMetrics struct {
	messagesReceived   *prometheus.CounterVec
	messagesProcessed  *prometheus.CounterVec
	messagesFailed     *prometheus.CounterVec
	duplicatesSkipped  *prometheus.CounterVec
	dlqPublished       *prometheus.CounterVec
	processingDuration *prometheus.HistogramVec
}

// NewConsumerMetrics creates and registers the consumer collectors with reg.
func NewConsumerMetrics(reg prometheus.Registerer) (*ConsumerMetrics, error) {
	labels := []string{"topic", "consumer_group"}
	m := &ConsumerMetrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_consumer_messages_received_total",
			Help: "Total number of Kafka messages received (fetched from broker)",
		}, labels),
		messagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_consumer_messages_processed_total",
			Help: "Total number of successfully processed Kafka messages",
		}, labels),
		messagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_consumer_messages_failed_total",
			Help: "Total number of Kafka messages that were malformed or failed all retries",
		}, labels),
		duplicatesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_consumer_messages_duplicate_total",
			Help: "Total number of duplicate Kafka events skipped by the idempotency guard",
		}, []string{"event_type"}),
		dlqPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_consumer_dlq_published_total",
			Help: "Total number of messages published to the dead-letter topic",
		}, labels),
		processingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kafka_consumer_processing_duration_seconds",
			Help:    "Duration of Kafka message processing in seconds",
			Buckets: prometheus.DefBuckets,
		}, labels),
	}
	for _, c := range []prometheus.Collector{m.messagesReceived, m.messagesProcessed, m.messagesFailed, m.duplicatesSkipped, m.dlqPublished, m.processingDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *ConsumerMetrics) received(topic, group string) {
	if m != nil {
		m.messagesReceived.WithLabelValues(topic, group).Inc()
	}
}

func (m *ConsumerMetrics) processed(topic, group string) {
	if m != nil {
		m.messagesProcessed.WithLabelValues(topic, group).Inc()
	}
}

func (m *ConsumerMetrics) failed(topic, group string) {
	if m != nil {
		m.messagesFailed.WithLabelValues(topic, group).Inc()
	}
}

func (m *ConsumerMetrics) duplicate(eventType string) {
	if m != nil {
		m.duplicatesSkipped.WithLabelValues(eventType).Inc()
	}
}

func (m *ConsumerMetrics) deadLettered(topic, group string) {
	if m != nil {
		m.dlqPublished.WithLabelValues(topic, group).Inc()
	}
}

func (m *ConsumerMetrics) observe(topic, group string, d time.Duration) {
	if m != nil {
		m.processingDuration.WithLabelValues(topic, group).Observe(d.Seconds())
	}
}
