package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/utafrali/catalogindex/internal/cores"
	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/engine"
	"github.com/utafrali/catalogindex/internal/evalctx"
	"github.com/utafrali/catalogindex/internal/repository"
	"github.com/utafrali/catalogindex/internal/structure"
	apperrors "github.com/utafrali/catalogindex/pkg/errors"
	"github.com/utafrali/catalogindex/pkg/logger"
	"github.com/utafrali/catalogindex/pkg/tracing"
)

const tracerName = "github.com/utafrali/catalogindex/internal/index"

// Dependencies are the collaborators shared by the indexer and coordinator.
type Dependencies struct {
	Catalog   repository.CatalogReader
	Structure repository.StructureReader
	Fields    repository.FieldCatalog
	Locales   repository.LocaleProvider
	Tx        repository.TxManager
	Backend   engine.Backend
	Cores     *cores.Registry
	Extension Extension
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Indexer builds and submits documents one page, or one item, at a time.
type Indexer struct {
	deps    Dependencies
	useSku  bool
	builder *Builder
	logger  *slog.Logger
}

// NewIndexer creates an indexer for namespace. useSku selects whether skus
// or products are the indexed items.
func NewIndexer(namespace string, useSku bool, deps Dependencies) *Indexer {
	return &Indexer{
		deps:    deps,
		useSku:  useSku,
		builder: NewBuilder(namespace, deps.Structure, deps.Extension, deps.Logger, deps.Metrics),
		logger:  deps.Logger,
	}
}

// Namespace returns the namespace documents are built for.
func (i *Indexer) Namespace() string {
	return i.builder.Namespace()
}

// Kind returns the kind of item the indexer indexes.
func (i *Indexer) Kind() domain.Kind {
	if i.useSku {
		return domain.KindSku
	}
	return domain.KindProduct
}

// Count returns the number of active items of the indexed kind.
func (i *Indexer) Count(ctx context.Context) (int, error) {
	if i.useSku {
		return i.deps.Catalog.CountActiveSkus(ctx)
	}
	return i.deps.Catalog.CountActiveProducts(ctx)
}

// BuildPage indexes one page of items into core inside a single read-only
// transaction and returns the number of documents submitted. Backend
// failures are returned as service failures; every other error is returned
// as is. Either way the transaction is rolled back.
//
// A nil cache makes the page create and release its own.
func (i *Indexer) BuildPage(ctx context.Context, cache *structure.Cache, page, pageSize int, core string) (int, error) {
	if cache == nil {
		i.logger.WarnContext(ctx, "building a page without a managed catalog structure cache, using a temporary one",
			slog.Int("page", page),
		)
		var n int
		err := structure.Scope(ctx, i.logger, func(c *structure.Cache) error {
			var err error
			n, err = i.buildPage(ctx, c, page, pageSize, core)
			return err
		})
		return n, err
	}
	return i.buildPage(ctx, cache, page, pageSize, core)
}

func (i *Indexer) buildPage(ctx context.Context, cache *structure.Cache, page, pageSize int, core string) (n int, err error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, "index.BuildPage")
	span.SetAttributes(
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
		attribute.String("core", core),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	err = i.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
		items, err := i.readPage(ctx, page, pageSize)
		if err != nil {
			return err
		}
		fields, err := i.readFields(ctx)
		if err != nil {
			return err
		}
		locales, err := i.deps.Locales.FindAllLocales(ctx)
		if err != nil {
			return fmt.Errorf("read locales: %w", err)
		}

		if err := cache.Populate(ctx, i.deps.Structure, productIDs(items)); err != nil {
			return err
		}

		docs := make([]domain.Document, 0, len(items))
		for _, item := range items {
			doc, err := i.builder.Build(ctx, cache, item, fields, locales)
			if err != nil {
				return err
			}
			if doc != nil {
				docs = append(docs, doc)
			}
		}
		i.logDocuments(ctx, docs)

		if len(docs) > 0 {
			if err := i.submit(ctx, core, docs); err != nil {
				return err
			}
		}
		n = len(docs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (i *Indexer) submit(ctx context.Context, core string, docs []domain.Document) error {
	if err := i.deps.Backend.AddDocuments(ctx, core, docs); err != nil {
		return apperrors.ServiceFailure(fmt.Sprintf("could not add documents to core %s", core), err)
	}
	if err := i.deps.Backend.Commit(ctx, core); err != nil {
		return apperrors.ServiceFailure(fmt.Sprintf("could not commit core %s", core), err)
	}
	return nil
}

// readPage loads one page and drops the items that must not be indexed.
func (i *Indexer) readPage(ctx context.Context, page, pageSize int) ([]domain.IndexableItem, error) {
	now := evalctx.Now(ctx)

	if !i.useSku {
		products, err := i.deps.Catalog.ReadActiveProducts(ctx, page, pageSize)
		if err != nil {
			return nil, fmt.Errorf("read active products page %d: %w", page, err)
		}
		items := make([]domain.IndexableItem, 0, len(products))
		for _, p := range products {
			if p.ActiveWindow().IsActive(now) {
				items = append(items, p)
			}
		}
		return items, nil
	}

	skus, err := i.deps.Catalog.ReadActiveSkus(ctx, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("read active skus page %d: %w", page, err)
	}
	items := make([]domain.IndexableItem, 0, len(skus))
	for _, s := range skus {
		if indexableSku(s, now) {
			items = append(items, s)
		}
	}
	return items, nil
}

// indexableSku reports whether a sku read for a rebuild page is indexed.
// A product's default sku stands in for the product only when the product
// can be sold as is: not a bundle, and not a product whose options live on
// its additional skus.
// indexable applies the same filters as page reads.
func indexable(item domain.IndexableItem, now time.Time) bool {
	if s, ok := item.(*domain.Sku); ok {
		return indexableSku(s, now)
	}
	return item.ActiveWindow().IsActive(now)
}

func indexableSku(s *domain.Sku, now time.Time) bool {
	if !s.ActiveWindow().IsActive(now) {
		return false
	}
	if p := s.DefaultProduct; p != nil {
		if !p.CanSellWithoutOptions && p.HasAdditionalSkus() {
			return false
		}
		if p.IsBundle {
			return false
		}
	}
	return true
}

func (i *Indexer) readFields(ctx context.Context) ([]*domain.Field, error) {
	if i.useSku {
		fields, err := i.deps.Fields.ReadAllSkuFields(ctx)
		if err != nil {
			return nil, fmt.Errorf("read sku fields: %w", err)
		}
		return fields, nil
	}
	fields, err := i.deps.Fields.ReadAllProductFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("read product fields: %w", err)
	}
	return fields, nil
}

func productIDs(items []domain.IndexableItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if id := item.OwnerProductID(); id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// logDocuments dumps every built document at trace level.
func (i *Indexer) logDocuments(ctx context.Context, docs []domain.Document) {
	if !i.logger.Enabled(ctx, logger.LevelTrace) {
		return
	}
	for _, doc := range docs {
		logger.Trace(ctx, i.logger, "built document",
			slog.String("id", doc.ID()),
			slog.Any("document", doc.Source()),
		)
	}
}

// BuildDocument builds the document for a single item outside a rebuild,
// within its own catalog structure cache. Unlike rebuild pages it applies
// no default-sku or bundle filtering. A nil document means it was vetoed.
func (i *Indexer) BuildDocument(ctx context.Context, item domain.IndexableItem) (domain.Document, error) {
	var doc domain.Document
	err := structure.Scope(ctx, i.logger, func(cache *structure.Cache) error {
		var fields []*domain.Field
		var err error
		if item.Kind() == domain.KindSku {
			fields, err = i.deps.Fields.ReadAllSkuFields(ctx)
		} else {
			fields, err = i.deps.Fields.ReadAllProductFields(ctx)
		}
		if err != nil {
			return fmt.Errorf("read %s fields: %w", item.Kind(), err)
		}
		locales, err := i.deps.Locales.FindAllLocales(ctx)
		if err != nil {
			return fmt.Errorf("read locales: %w", err)
		}
		doc, err = i.builder.Build(ctx, cache, item, fields, locales)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// IndexItem reindexes one item in the active core. An item a rebuild would
// leave out, or whose document is vetoed, is removed instead.
func (i *Indexer) IndexItem(ctx context.Context, kind domain.Kind, id int64) error {
	if kind != i.Kind() {
		return apperrors.InvalidInput(fmt.Sprintf("this index holds %s documents, not %s", i.Kind(), kind))
	}

	ctx, span := tracing.Tracer(tracerName).Start(ctx, "index.IndexItem")
	span.SetAttributes(attribute.String("kind", string(kind)), attribute.Int64("id", id))
	defer span.End()

	core := i.deps.Cores.Active()
	return i.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
		item, err := i.find(ctx, kind, id)
		if err != nil {
			return err
		}

		var doc domain.Document
		if indexable(item, evalctx.Now(ctx)) {
			if doc, err = i.BuildDocument(ctx, item); err != nil {
				return err
			}
		}

		if doc == nil {
			q := engine.Query{Namespace: i.Namespace(), DocumentIDs: []string{DocumentID(i.Namespace(), item)}}
			if err := i.deps.Backend.DeleteByQuery(ctx, core, q); err != nil {
				return apperrors.ServiceFailure(fmt.Sprintf("could not delete document from core %s", core), err)
			}
			if err := i.deps.Backend.Commit(ctx, core); err != nil {
				return apperrors.ServiceFailure(fmt.Sprintf("could not commit core %s", core), err)
			}
			i.logger.InfoContext(ctx, "removed item from index",
				slog.String("kind", string(kind)), slog.Int64("id", id), slog.String("core", core))
			return nil
		}

		i.logDocuments(ctx, []domain.Document{doc})
		if err := i.submit(ctx, core, []domain.Document{doc}); err != nil {
			return err
		}
		i.logger.InfoContext(ctx, "reindexed item",
			slog.String("kind", string(kind)), slog.Int64("id", id), slog.String("core", core))
		return nil
	})
}

func (i *Indexer) find(ctx context.Context, kind domain.Kind, id int64) (domain.IndexableItem, error) {
	if kind == domain.KindSku {
		s, err := i.deps.Catalog.FindSku(ctx, id)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	p, err := i.deps.Catalog.FindProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}
