package engine

import (
	"context"
	"errors"
	"slices"

	"github.com/utafrali/catalogindex/internal/domain"
)

// ErrUnknownCore is returned when an operation names a core the backend does not host.
var ErrUnknownCore = errors.New("unknown core")

// Query selects documents for deletion. Namespace is always applied;
// DocumentIDs narrows the match to the listed ids when non-empty.
type Query struct {
	Namespace   string
	DocumentIDs []string
}

// Matches reports whether doc is selected by q.
func (q Query) Matches(doc domain.Document) bool {
	if doc.Namespace() != q.Namespace {
		return false
	}
	return len(q.DocumentIDs) == 0 || slices.Contains(q.DocumentIDs, doc.ID())
}

// Backend defines the operations the indexer needs from a search engine.
// Implementations may use Elasticsearch, Bleve, in-memory storage, or other backends.
type Backend interface {
	// AddDocuments queues documents for the core. They become visible on Commit.
	AddDocuments(ctx context.Context, core string, docs []domain.Document) error

	// Commit makes queued changes on the core visible to readers.
	Commit(ctx context.Context, core string) error

	// Optimize compacts the core after a bulk load.
	Optimize(ctx context.Context, core string) error

	// DeleteByQuery removes every document of the core matched by q.
	DeleteByQuery(ctx context.Context, core string, q Query) error

	// Ping checks whether the backend is reachable.
	Ping(ctx context.Context) error
}

// AliasMover is implemented by backends that serve reads through an alias.
// An empty Alias means no alias is configured.
type AliasMover interface {
	Alias() string
	PointAlias(ctx context.Context, core string) error

	// ResolveAlias returns the core the alias points to, or "" when the
	// alias does not exist yet.
	ResolveAlias(ctx context.Context) (string, error)
}
