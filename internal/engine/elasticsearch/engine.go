package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/engine"
)

// Config holds the connection settings for the Elasticsearch engine.
type Config struct {
	URL      string
	Username string
	Password string
	// Alias is the read alias moved on swap. Empty disables alias moves.
	Alias string
}

// Engine is an Elasticsearch-backed implementation of engine.Backend.
// Each core is an index; Commit is a refresh and Optimize a force merge.
type Engine struct {
	client *elasticsearch.Client
	alias  string
	logger *slog.Logger
}

// esBulkResponse is the structure used to decode Elasticsearch bulk responses.
type esBulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"index"`
	} `json:"items"`
}

// esDeleteByQueryResponse is used to decode delete-by-query responses.
type esDeleteByQueryResponse struct {
	Deleted  int `json:"deleted"`
	Failures []struct {
		ID    string `json:"id"`
		Cause struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"cause"`
	} `json:"failures"`
}

// esErrorResponse is used to decode Elasticsearch error responses.
type esErrorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

// New creates a new Elasticsearch engine connected to cfg.URL.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to create client: %w", err)
	}
	return NewWithClient(client, cfg.Alias, logger), nil
}

// NewWithClient creates an engine around an existing client.
func NewWithClient(client *elasticsearch.Client, alias string, logger *slog.Logger) *Engine {
	return &Engine{client: client, alias: alias, logger: logger}
}

// responseError turns an error response into a Go error.
func responseError(op string, res *esapi.Response) error {
	var errResp esErrorResponse
	if decErr := json.NewDecoder(res.Body).Decode(&errResp); decErr == nil && errResp.Error.Type != "" {
		return fmt.Errorf("elasticsearch %s: %s: %s", op, errResp.Error.Type, errResp.Error.Reason)
	}
	return fmt.Errorf("elasticsearch %s: unexpected status %s", op, res.Status())
}

// Ping checks whether the Elasticsearch cluster is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: unexpected status %s", res.Status())
	}
	return nil
}

// EnsureCores creates every missing core index with the catalog mapping.
func (e *Engine) EnsureCores(ctx context.Context, cores ...string) error {
	for _, core := range cores {
		if err := e.ensureCore(ctx, core); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) ensureCore(ctx context.Context, core string) error {
	res, err := e.client.Indices.Exists([]string{core}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch check core %s: %w", core, err)
	}
	_ = res.Body.Close()

	// Status 200 means the index exists.
	if res.StatusCode == http.StatusOK {
		e.logger.Debug("elasticsearch core already exists", "core", core)
		return nil
	}

	res, err = e.client.Indices.Create(
		core,
		e.client.Indices.Create.WithBody(strings.NewReader(buildCoreMapping())),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch create core %s: %w", core, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("create core", res)
	}

	e.logger.Info("elasticsearch core created", "core", core)
	return nil
}

// AddDocuments sends the documents to the core using the bulk NDJSON API.
func (e *Engine) AddDocuments(ctx context.Context, core string, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			return fmt.Errorf("elasticsearch bulk: document without %s field", domain.FieldID)
		}
		// Action line.
		action := map[string]any{
			"index": map[string]any{
				"_index": core,
				"_id":    id,
			},
		}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("elasticsearch bulk: encode action: %w", err)
		}
		// Document line.
		if err := enc.Encode(doc.Source()); err != nil {
			return fmt.Errorf("elasticsearch bulk: encode document %s: %w", id, err)
		}
	}

	res, err := e.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		e.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("bulk", res)
	}

	// Parse the bulk response to check for per-item errors.
	var bulkResp esBulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("elasticsearch bulk: decode response: %w", err)
	}

	if bulkResp.Errors {
		var errMsgs []string
		for _, item := range bulkResp.Items {
			if item.Index.Error.Type != "" {
				errMsgs = append(errMsgs, fmt.Sprintf("id=%s: %s: %s", item.Index.ID, item.Index.Error.Type, item.Index.Error.Reason))
			}
		}
		return fmt.Errorf("elasticsearch bulk: partial errors: %s", strings.Join(errMsgs, "; "))
	}

	e.logger.Debug("bulk added documents", "core", core, "count", len(docs))
	return nil
}

// Commit refreshes the core so added and deleted documents become visible.
func (e *Engine) Commit(ctx context.Context, core string) error {
	res, err := e.client.Indices.Refresh(
		e.client.Indices.Refresh.WithIndex(core),
		e.client.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch refresh: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("refresh", res)
	}
	return nil
}

// Optimize force-merges the core down to a single segment.
func (e *Engine) Optimize(ctx context.Context, core string) error {
	res, err := e.client.Indices.Forcemerge(
		e.client.Indices.Forcemerge.WithIndex(core),
		e.client.Indices.Forcemerge.WithMaxNumSegments(1),
		e.client.Indices.Forcemerge.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch forcemerge: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("forcemerge", res)
	}
	return nil
}

// buildDeleteQuery constructs the delete-by-query DSL for q.
func buildDeleteQuery(q engine.Query) map[string]any {
	filters := []any{
		map[string]any{"term": map[string]any{domain.FieldNamespace: q.Namespace}},
	}
	if len(q.DocumentIDs) > 0 {
		filters = append(filters, map[string]any{
			"terms": map[string]any{domain.FieldID: q.DocumentIDs},
		})
	}
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{"filter": filters},
		},
	}
}

// DeleteByQuery removes the documents of the core matched by q.
// Version conflicts are skipped, not fatal.
func (e *Engine) DeleteByQuery(ctx context.Context, core string, q engine.Query) error {
	data, err := json.Marshal(buildDeleteQuery(q))
	if err != nil {
		return fmt.Errorf("elasticsearch delete by query: marshal query: %w", err)
	}

	res, err := e.client.DeleteByQuery(
		[]string{core},
		bytes.NewReader(data),
		e.client.DeleteByQuery.WithConflicts("proceed"),
		e.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete by query: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("delete by query", res)
	}

	var dbq esDeleteByQueryResponse
	if err := json.NewDecoder(res.Body).Decode(&dbq); err != nil {
		return fmt.Errorf("elasticsearch delete by query: decode response: %w", err)
	}
	if len(dbq.Failures) > 0 {
		f := dbq.Failures[0]
		return fmt.Errorf("elasticsearch delete by query: %d failures, first id=%s: %s: %s",
			len(dbq.Failures), f.ID, f.Cause.Type, f.Cause.Reason)
	}

	e.logger.Debug("deleted documents by query", "core", core, "namespace", q.Namespace, "deleted", dbq.Deleted)
	return nil
}

// Alias returns the configured read alias, or "".
func (e *Engine) Alias() string {
	return e.alias
}

// aliasTargets returns the indices the alias currently points to.
func (e *Engine) aliasTargets(ctx context.Context) ([]string, error) {
	res, err := e.client.Indices.GetAlias(
		e.client.Indices.GetAlias.WithName(e.alias),
		e.client.Indices.GetAlias.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch get alias: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	// 404: the alias does not exist yet.
	if res.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, nil
	}
	if res.IsError() {
		return nil, responseError("get alias", res)
	}

	var byIndex map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&byIndex); err != nil {
		return nil, fmt.Errorf("elasticsearch get alias: decode response: %w", err)
	}
	indices := make([]string, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Strings(indices)
	return indices, nil
}

// ResolveAlias returns the index the alias points to. An alias spanning
// several indices is an error, since readers would see mixed cores.
func (e *Engine) ResolveAlias(ctx context.Context) (string, error) {
	if e.alias == "" {
		return "", nil
	}
	targets, err := e.aliasTargets(ctx)
	if err != nil {
		return "", err
	}
	switch len(targets) {
	case 0:
		return "", nil
	case 1:
		return targets[0], nil
	default:
		return "", fmt.Errorf("elasticsearch alias %s points to %d indices: %v", e.alias, len(targets), targets)
	}
}

// PointAlias moves the alias to core in a single atomic alias update.
func (e *Engine) PointAlias(ctx context.Context, core string) error {
	if e.alias == "" {
		return nil
	}

	current, err := e.aliasTargets(ctx)
	if err != nil {
		return err
	}

	actions := make([]any, 0, len(current)+1)
	for _, idx := range current {
		if idx == core {
			continue
		}
		actions = append(actions, map[string]any{"remove": map[string]any{"index": idx, "alias": e.alias}})
	}
	actions = append(actions, map[string]any{"add": map[string]any{"index": core, "alias": e.alias}})

	data, err := json.Marshal(map[string]any{"actions": actions})
	if err != nil {
		return fmt.Errorf("elasticsearch update aliases: marshal actions: %w", err)
	}

	res, err := e.client.Indices.UpdateAliases(
		bytes.NewReader(data),
		e.client.Indices.UpdateAliases.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch update aliases: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("update aliases", res)
	}

	e.logger.Info("elasticsearch alias moved", "alias", e.alias, "core", core, "previous", current)
	return nil
}

// DeleteCore removes a core index. A 404 response is treated as success.
func (e *Engine) DeleteCore(ctx context.Context, core string) error {
	res, err := e.client.Indices.Delete(
		[]string{core},
		e.client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete core: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("delete core", res)
	}

	e.logger.Info("elasticsearch core deleted", "core", core)
	return nil
}
