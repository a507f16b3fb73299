package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/catalogindex/internal/domain"
	apperrors "github.com/utafrali/catalogindex/pkg/errors"
	pkgkafka "github.com/utafrali/catalogindex/pkg/kafka"
)

// Kafka topics consumed and produced by the indexer.
var (
	TopicReindexRequested = pkgkafka.Topic("search", "reindex_requested")
	TopicProductUpdated   = pkgkafka.Topic("product", "updated")
	TopicSkuUpdated       = pkgkafka.Topic("sku", "updated")
	TopicIndexRebuilt     = pkgkafka.Topic("search", "index_rebuilt")
)

// Topics returns the topics the consumer subscribes to.
func Topics() []string {
	return []string{TopicReindexRequested, TopicProductUpdated, TopicSkuUpdated}
}

// ReindexRequestedData is the payload of a reindex request. An empty
// namespace addresses every indexer.
type ReindexRequestedData struct {
	Namespace string `json:"namespace,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ItemUpdatedData is the payload of product and sku update events.
type ItemUpdatedData struct {
	ID int64 `json:"id"`
}

// Rebuilder runs a full rebuild.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// ItemIndexer reindexes a single catalog item.
type ItemIndexer interface {
	Namespace() string
	Kind() domain.Kind
	IndexItem(ctx context.Context, kind domain.Kind, id int64) error
}

// Consumer turns catalog events into index updates.
type Consumer struct {
	rebuilder Rebuilder
	items     ItemIndexer
	logger    *slog.Logger
}

// NewConsumer creates a new event consumer.
func NewConsumer(rebuilder Rebuilder, items ItemIndexer, logger *slog.Logger) *Consumer {
	return &Consumer{
		rebuilder: rebuilder,
		items:     items,
		logger:    logger,
	}
}

// Handle processes a Kafka event based on its type.
func (c *Consumer) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicReindexRequested:
		return c.handleReindexRequested(ctx, event)
	case TopicProductUpdated:
		return c.handleItemUpdated(ctx, event, domain.KindProduct)
	case TopicSkuUpdated:
		return c.handleItemUpdated(ctx, event, domain.KindSku)
	default:
		c.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

func (c *Consumer) handleReindexRequested(ctx context.Context, event *pkgkafka.Event) error {
	var data ReindexRequestedData
	if len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("unmarshal reindex_requested data: %w", err)
		}
	}
	if data.Namespace != "" && data.Namespace != c.items.Namespace() {
		return nil
	}

	err := c.rebuilder.Rebuild(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrConflict):
		// A rebuild already running covers this request.
		c.logger.InfoContext(ctx, "reindex request skipped, rebuild already running",
			slog.String("event_id", event.EventID),
		)
		return nil
	default:
		return fmt.Errorf("rebuild from reindex request: %w", err)
	}
}

func (c *Consumer) handleItemUpdated(ctx context.Context, event *pkgkafka.Event, kind domain.Kind) error {
	if kind != c.items.Kind() {
		return nil
	}

	var data ItemUpdatedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal %s.updated data: %w", kind, err)
	}
	if data.ID <= 0 {
		c.logger.WarnContext(ctx, "update event without item id",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}

	err := c.items.IndexItem(ctx, kind, data.ID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrInvalidInput):
		c.logger.WarnContext(ctx, "updated item cannot be indexed, skipping",
			slog.String("kind", string(kind)),
			slog.Int64("id", data.ID),
			slog.String("error", err.Error()),
		)
		return nil
	default:
		return fmt.Errorf("index %s %d from update event: %w", kind, data.ID, err)
	}
}
