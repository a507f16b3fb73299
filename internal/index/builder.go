package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/evalctx"
	"github.com/utafrali/catalogindex/internal/repository"
	"github.com/utafrali/catalogindex/internal/structure"
	"github.com/utafrali/catalogindex/pkg/logger"
)

var errNoResolver = errors.New("no resolver bound")

// Builder turns catalog items into search documents.
type Builder struct {
	namespace string
	structure repository.StructureReader
	ext       Extension
	logger    *slog.Logger
	metrics   *Metrics
}

// NewBuilder creates a document builder. ext and metrics may be nil.
func NewBuilder(namespace string, sr repository.StructureReader, ext Extension, l *slog.Logger, metrics *Metrics) *Builder {
	if ext == nil {
		ext = NopExtension{}
	}
	return &Builder{
		namespace: namespace,
		structure: sr,
		ext:       ext,
		logger:    l,
		metrics:   metrics,
	}
}

// Namespace returns the namespace documents are built for.
func (b *Builder) Namespace() string {
	return b.namespace
}

// Build creates the document for item. A nil document with a nil error
// means an extension vetoed the item and it must not be indexed.
func (b *Builder) Build(ctx context.Context, cache *structure.Cache, item domain.IndexableItem, fields []*domain.Field, locales []domain.Locale) (domain.Document, error) {
	doc := domain.Document{}

	keep, err := b.attachBasicFields(ctx, cache, item, doc)
	if err != nil {
		return nil, err
	}
	if !keep {
		logger.Trace(ctx, b.logger, "document vetoed",
			slog.String("kind", string(item.Kind())),
			slog.Int64("id", item.ItemID()),
		)
		return nil, nil
	}

	// Names emitted by searchable passes; facets never duplicate them.
	added := make(map[string]struct{})
	for _, f := range fields {
		if err := b.addField(ctx, item, f, locales, doc, added); err != nil {
			b.metrics.fieldFailure(string(item.Kind()))
			logger.Trace(ctx, b.logger, "could not get value for property",
				slog.String("property", f.QualifiedName()),
				slog.String("kind", string(item.Kind())),
				slog.Int64("id", item.ItemID()),
				slog.String("error", err.Error()),
			)
		}
	}
	return doc, nil
}

func (b *Builder) attachBasicFields(ctx context.Context, cache *structure.Cache, item domain.IndexableItem, doc domain.Document) (bool, error) {
	productID := item.OwnerProductID()
	if productID != 0 && !cache.Populated(productID) {
		if err := cache.Populate(ctx, b.structure, []int64{productID}); err != nil {
			return false, err
		}
	}

	doc.Add(domain.FieldNamespace, b.namespace)
	doc.Add(domain.FieldID, DocumentID(b.namespace, item))
	switch item.Kind() {
	case domain.KindSku:
		doc.Add(domain.FieldSkuID, item.ItemID())
	default:
		doc.Add(domain.FieldProductID, item.ItemID())
	}

	if b.ext.AttachAdditionalBasicFields(ctx, item, doc) == Veto {
		return false, nil
	}

	// Explicit categories are the ones the product is directly assigned to.
	for _, categoryID := range cache.ParentCategoriesOfProduct(productID) {
		doc.Add(domain.FieldExplicitCategory, categoryID)

		sortField := CategorySortFieldName(categoryID)
		if !doc.Has(sortField) {
			if order, ok := cache.DisplayOrder(categoryID, productID); ok {
				doc.Add(sortField, order)
			}
		}

		Walk(doc, cache, categoryID, structure.NewIDSet())
	}
	return true, nil
}

type fieldValue struct {
	name  string
	value any
}

// addField resolves every searchable and facet value of f and adds them to
// doc only when all of them resolved, so a failing field leaves no trace.
func (b *Builder) addField(ctx context.Context, item domain.IndexableItem, f *domain.Field, locales []domain.Locale, doc domain.Document, added map[string]struct{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var (
		values   []fieldValue
		emitted  []string
		emitting = make(map[string]struct{})
	)

	if f.Searchable {
		for _, t := range f.SearchableTypes {
			byPrefix, err := b.propertyValues(ctx, item, f, t, locales)
			if err != nil {
				return err
			}
			for _, key := range sortedKeys(byPrefix) {
				name := PropertyFieldName(localePrefix(key), f, t)
				values = append(values, fieldValue{name: name, value: byPrefix[key]})
				if _, ok := emitting[name]; !ok {
					emitting[name] = struct{}{}
					emitted = append(emitted, name)
				}
			}
		}
	}

	if f.FacetType != nil {
		byPrefix, err := b.propertyValues(ctx, item, f, *f.FacetType, locales)
		if err != nil {
			return err
		}
		for _, key := range sortedKeys(byPrefix) {
			name := PropertyFieldName(localePrefix(key), f, *f.FacetType)
			if _, ok := added[name]; ok {
				continue
			}
			if _, ok := emitting[name]; ok {
				continue
			}
			values = append(values, fieldValue{name: name, value: byPrefix[key]})
		}
	}

	for _, v := range values {
		addValue(doc, v.name, v.value)
	}
	for _, name := range emitted {
		added[name] = struct{}{}
	}
	return nil
}

// propertyValues returns the value of f per locale prefix ("" when the
// field is not translatable).
func (b *Builder) propertyValues(ctx context.Context, item domain.IndexableItem, f *domain.Field, t domain.FieldType, locales []domain.Locale) (map[string]any, error) {
	switch values, r := b.ext.AddPropertyValues(ctx, item, f, t, locales); r {
	case Handled:
		return values, nil
	case Veto:
		return nil, nil
	}

	if f.Resolver == nil {
		return nil, errNoResolver
	}

	if !f.Translatable || len(locales) == 0 {
		v, err := f.Resolver(ctx, item)
		if err != nil {
			return nil, err
		}
		return map[string]any{"": v}, nil
	}

	out := make(map[string]any, len(locales))
	for _, l := range locales {
		v, err := f.Resolver(evalctx.WithLocale(ctx, l.Code), item)
		if err != nil {
			return nil, fmt.Errorf("locale %s: %w", l.Code, err)
		}
		out[l.Code] = v
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// addValue unwraps attribute values one level, flattens slices and skips
// absent values.
func addValue(doc domain.Document, name string, v any) {
	if valuer, ok := v.(domain.Valuer); ok {
		v = valuer.AttributeValue()
	}
	switch vs := v.(type) {
	case nil:
	case []any:
		for _, e := range vs {
			if e != nil {
				doc.Add(name, e)
			}
		}
	case []string:
		for _, e := range vs {
			doc.Add(name, e)
		}
	case []int64:
		for _, e := range vs {
			doc.Add(name, e)
		}
	case []float64:
		for _, e := range vs {
			doc.Add(name, e)
		}
	default:
		doc.Add(name, v)
	}
}
