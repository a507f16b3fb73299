package bleve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/engine"
)

// deletePageSize bounds how many matching ids are fetched per delete round.
const deletePageSize = 1000

// Engine is an embedded Bleve implementation of engine.Backend. Every core
// is its own index, on disk under the data directory or in memory when the
// directory is empty. Added documents are buffered and applied on Commit.
type Engine struct {
	mu      sync.Mutex
	dataDir string
	cores   map[string]*core
	logger  *slog.Logger
}

type core struct {
	index   bleve.Index
	pending map[string]map[string]any
	order   []string
}

// New opens (or creates) the named cores.
func New(dataDir string, cores []string, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		dataDir: dataDir,
		cores:   make(map[string]*core, len(cores)),
		logger:  logger,
	}
	for _, name := range cores {
		if _, ok := e.cores[name]; ok {
			continue
		}
		idx, err := e.open(name)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.cores[name] = &core{index: idx, pending: make(map[string]map[string]any)}
	}
	return e, nil
}

// buildMapping indexes the basic identifier fields verbatim and everything
// else with the default dynamic mapping.
func buildMapping() *mapping.IndexMappingImpl {
	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(domain.FieldNamespace, kw)
	doc.AddFieldMappingsAt(domain.FieldID, kw)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

func (e *Engine) open(name string) (bleve.Index, error) {
	if e.dataDir == "" {
		idx, err := bleve.NewMemOnly(buildMapping())
		if err != nil {
			return nil, fmt.Errorf("bleve: create in-memory core %s: %w", name, err)
		}
		return idx, nil
	}

	if err := os.MkdirAll(e.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("bleve: create data dir %s: %w", e.dataDir, err)
	}
	path := filepath.Join(e.dataDir, name)

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("bleve: open core %s: %w", name, err)
	}
	e.logger.Info("bleve core opened", "core", name, "path", path)
	return idx, nil
}

func (e *Engine) core(name string) (*core, error) {
	c, ok := e.cores[name]
	if !ok {
		return nil, fmt.Errorf("bleve: %w: %s", engine.ErrUnknownCore, name)
	}
	return c, nil
}

// AddDocuments buffers the documents until the next Commit.
func (e *Engine) AddDocuments(_ context.Context, coreName string, docs []domain.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.core(coreName)
	if err != nil {
		return err
	}
	for _, d := range docs {
		id := d.ID()
		if id == "" {
			return fmt.Errorf("bleve: document without %s field", domain.FieldID)
		}
		if _, seen := c.pending[id]; !seen {
			c.order = append(c.order, id)
		}
		c.pending[id] = d.Source()
	}
	return nil
}

// Commit applies the buffered documents in one batch.
func (e *Engine) Commit(_ context.Context, coreName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.core(coreName)
	if err != nil {
		return err
	}
	if len(c.order) == 0 {
		return nil
	}

	batch := c.index.NewBatch()
	for _, id := range c.order {
		if err := batch.Index(id, c.pending[id]); err != nil {
			return fmt.Errorf("bleve: index document %s: %w", id, err)
		}
	}
	if err := c.index.Batch(batch); err != nil {
		return fmt.Errorf("bleve: execute batch on %s: %w", coreName, err)
	}

	e.logger.Debug("bleve batch committed", "core", coreName, "count", len(c.order))
	c.pending = make(map[string]map[string]any)
	c.order = nil
	return nil
}

// Optimize is a no-op; Bleve merges segments in the background.
func (e *Engine) Optimize(_ context.Context, coreName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.core(coreName)
	return err
}

func deleteQuery(q engine.Query) query.Query {
	ns := bleve.NewTermQuery(q.Namespace)
	ns.SetField(domain.FieldNamespace)
	if len(q.DocumentIDs) == 0 {
		return ns
	}
	return bleve.NewConjunctionQuery(ns, bleve.NewDocIDQuery(q.DocumentIDs))
}

// DeleteByQuery removes matching documents, including matching ones still
// buffered for the next Commit.
func (e *Engine) DeleteByQuery(ctx context.Context, coreName string, q engine.Query) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.core(coreName)
	if err != nil {
		return err
	}

	kept := c.order[:0]
	for _, id := range c.order {
		if q.Matches(domain.Document{
			domain.FieldNamespace: {c.pending[id][domain.FieldNamespace]},
			domain.FieldID:        {id},
		}) {
			delete(c.pending, id)
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept

	deleted := 0
	for {
		req := bleve.NewSearchRequestOptions(deleteQuery(q), deletePageSize, 0, false)
		res, err := c.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("bleve: search documents to delete: %w", err)
		}
		if len(res.Hits) == 0 {
			break
		}
		batch := c.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := c.index.Batch(batch); err != nil {
			return fmt.Errorf("bleve: delete batch on %s: %w", coreName, err)
		}
		deleted += len(res.Hits)
	}

	e.logger.Debug("bleve documents deleted", "core", coreName, "namespace", q.Namespace, "deleted", deleted)
	return nil
}

// Ping reports whether the engine still has open cores.
func (e *Engine) Ping(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.cores) == 0 {
		return errors.New("bleve: engine is closed")
	}
	return nil
}

// Count returns the number of committed documents in the core.
func (e *Engine) Count(coreName string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.core(coreName)
	if err != nil {
		return 0, err
	}
	return c.index.DocCount()
}

// Close closes every core.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for name, c := range e.cores {
		if err := c.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bleve: close core %s: %w", name, err))
		}
	}
	e.cores = make(map[string]*core)
	return errors.Join(errs...)
}
