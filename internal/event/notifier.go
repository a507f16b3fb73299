package event

import (
	"context"
	"fmt"
	"time"

	"github.com/utafrali/catalogindex/internal/index"
	pkgkafka "github.com/utafrali/catalogindex/pkg/kafka"
	"github.com/utafrali/catalogindex/pkg/logger"
)

// Publisher sends events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// IndexRebuiltData is the payload of the index_rebuilt event.
type IndexRebuiltData struct {
	RunID      string    `json:"run_id"`
	Namespace  string    `json:"namespace"`
	Core       string    `json:"core"`
	Documents  int       `json:"documents"`
	Pages      int       `json:"pages"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Notifier publishes an event after every successful rebuild.
type Notifier struct {
	publisher Publisher
	source    string
}

// NewNotifier creates a notifier publishing as source.
func NewNotifier(publisher Publisher, source string) *Notifier {
	return &Notifier{publisher: publisher, source: source}
}

// IndexRebuilt implements index.Notifier.
func (n *Notifier) IndexRebuilt(ctx context.Context, run index.Run) error {
	data := IndexRebuiltData{
		RunID:      run.ID,
		Namespace:  run.Namespace,
		Core:       run.Core,
		Documents:  run.Documents,
		Pages:      run.Pages,
		StartedAt:  run.StartedAt,
		DurationMs: run.Duration.Milliseconds(),
	}
	event, err := pkgkafka.NewEvent(TopicIndexRebuilt, run.Namespace, "search_index", n.source, data)
	if err != nil {
		return fmt.Errorf("build index_rebuilt event: %w", err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	return n.publisher.Publish(ctx, TopicIndexRebuilt, event)
}
