package index

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogindex/internal/cores"
	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/engine"
	"github.com/utafrali/catalogindex/internal/engine/memory"
	"github.com/utafrali/catalogindex/internal/evalctx"
	"github.com/utafrali/catalogindex/internal/repository"
	"github.com/utafrali/catalogindex/internal/structure"
	apperrors "github.com/utafrali/catalogindex/pkg/errors"
	"github.com/utafrali/catalogindex/pkg/logger"
)

const testNamespace = "default"

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func traceLogger(buf *bytes.Buffer) *slog.Logger {
	return logger.NewWithWriter("catalog-indexer", "trace", buf)
}

func activeWindow() domain.ActiveWindow {
	start := testNow.Add(-24 * time.Hour)
	return domain.ActiveWindow{Start: &start}
}

func newTestProduct(id int64, name string) *domain.Product {
	return &domain.Product{
		ID:                    id,
		Name:                  name,
		Manufacturer:          "Acme",
		CanSellWithoutOptions: true,
		Active:                activeWindow(),
	}
}

func newTestSku(id int64, p *domain.Product) *domain.Sku {
	return &domain.Sku{ID: id, Name: fmt.Sprintf("sku %d", id), Product: p, Active: activeWindow()}
}

func ftype(t domain.FieldType) *domain.FieldType { return &t }

// newTestField builds a field with a compiled resolver.
func newTestField(t *testing.T, kind domain.Kind, abbr, path string, searchable []domain.FieldType, facet *domain.FieldType) *domain.Field {
	t.Helper()
	f := &domain.Field{
		Kind:            kind,
		Name:            abbr,
		Abbreviation:    abbr,
		PropertyPath:    path,
		Searchable:      len(searchable) > 0,
		SearchableTypes: searchable,
		FacetType:       facet,
	}
	r, err := repository.CompileResolver(kind, path)
	require.NoError(t, err)
	f.Resolver = r
	return f
}

// --- catalog ---

type fakeCatalog struct {
	mu       sync.Mutex
	products []*domain.Product
	skus     []*domain.Sku
	pages    []int
	readErr  map[int]error
	seen     []evalctx.Context
}

func pageOf[T any](items []T, page, size int) []T {
	start := page * size
	if start >= len(items) {
		return nil
	}
	end := min(start+size, len(items))
	return items[start:end]
}

func (f *fakeCatalog) record(ctx context.Context, page int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ec, _ := evalctx.From(ctx)
	f.seen = append(f.seen, ec)
	f.pages = append(f.pages, page)
	return f.readErr[page]
}

func (f *fakeCatalog) CountActiveProducts(context.Context) (int, error) { return len(f.products), nil }
func (f *fakeCatalog) CountActiveSkus(context.Context) (int, error)     { return len(f.skus), nil }

func (f *fakeCatalog) ReadActiveProducts(ctx context.Context, page, pageSize int) ([]*domain.Product, error) {
	if err := f.record(ctx, page); err != nil {
		return nil, err
	}
	return pageOf(f.products, page, pageSize), nil
}

func (f *fakeCatalog) ReadActiveSkus(ctx context.Context, page, pageSize int) ([]*domain.Sku, error) {
	if err := f.record(ctx, page); err != nil {
		return nil, err
	}
	return pageOf(f.skus, page, pageSize), nil
}

func (f *fakeCatalog) FindProduct(_ context.Context, id int64) (*domain.Product, error) {
	for _, p := range f.products {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, apperrors.NotFound("product", fmt.Sprint(id))
}

func (f *fakeCatalog) FindSku(_ context.Context, id int64) (*domain.Sku, error) {
	for _, s := range f.skus {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, apperrors.NotFound("sku", fmt.Sprint(id))
}

// --- structure ---

type fakeStructure struct {
	mu                sync.Mutex
	parentsByProduct  map[int64][]int64
	parentsByCategory map[int64][]int64
	orders            map[structure.DisplayOrderKey]float64
	calls             [][]int64
}

func newFakeStructure() *fakeStructure {
	return &fakeStructure{
		parentsByProduct:  make(map[int64][]int64),
		parentsByCategory: make(map[int64][]int64),
		orders:            make(map[structure.DisplayOrderKey]float64),
	}
}

func (f *fakeStructure) PopulateProductCatalogStructure(_ context.Context, ids []int64, cache *structure.Cache) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]int64(nil), ids...))
	for _, id := range ids {
		if parents, ok := f.parentsByProduct[id]; ok {
			cache.AddProductParents(id, parents...)
		}
	}
	for cat, parents := range f.parentsByCategory {
		cache.AddCategoryParents(cat, parents...)
	}
	for k, v := range f.orders {
		cache.AddDisplayOrder(k.CategoryID, k.ProductID, v)
	}
	return nil
}

// --- fields and locales ---

type fakeFields struct {
	product []*domain.Field
	sku     []*domain.Field
}

func (f *fakeFields) ReadAllProductFields(context.Context) ([]*domain.Field, error) { return f.product, nil }
func (f *fakeFields) ReadAllSkuFields(context.Context) ([]*domain.Field, error)     { return f.sku, nil }

type fakeLocales []domain.Locale

func (f fakeLocales) FindAllLocales(context.Context) ([]domain.Locale, error) { return f, nil }

// --- transactions ---

type fakeTx struct {
	mu        sync.Mutex
	begins    int
	commits   int
	rollbacks int
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(context.Context) error) error {
	f.mu.Lock()
	f.begins++
	f.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			f.mu.Lock()
			f.rollbacks++
			f.mu.Unlock()
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		f.mu.Lock()
		f.rollbacks++
		f.mu.Unlock()
		return err
	}
	f.mu.Lock()
	f.commits++
	f.mu.Unlock()
	return nil
}

// --- backend ---

// recordingBackend logs every call as "op:core" and can fail chosen calls.
type recordingBackend struct {
	*memory.Engine
	mu    sync.Mutex
	ops   []string
	alias string
	// failures maps "op:core" or "op:core#n" (n-th such call, 1-based) to an error.
	failures map[string]error
	counts   map[string]int
}

func newRecordingBackend(alias string) *recordingBackend {
	return &recordingBackend{
		Engine:   memory.New(memory.WithAlias(alias)),
		alias:    alias,
		failures: make(map[string]error),
		counts:   make(map[string]int),
	}
}

func (b *recordingBackend) call(op, core string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := op + ":" + core
	b.ops = append(b.ops, key)
	b.counts[key]++
	if err, ok := b.failures[fmt.Sprintf("%s#%d", key, b.counts[key])]; ok {
		return err
	}
	return b.failures[key]
}

func (b *recordingBackend) Ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ops...)
}

func (b *recordingBackend) AddDocuments(ctx context.Context, core string, docs []domain.Document) error {
	if err := b.call("add", core); err != nil {
		return err
	}
	return b.Engine.AddDocuments(ctx, core, docs)
}

func (b *recordingBackend) Commit(ctx context.Context, core string) error {
	if err := b.call("commit", core); err != nil {
		return err
	}
	return b.Engine.Commit(ctx, core)
}

func (b *recordingBackend) Optimize(ctx context.Context, core string) error {
	if err := b.call("optimize", core); err != nil {
		return err
	}
	return b.Engine.Optimize(ctx, core)
}

func (b *recordingBackend) DeleteByQuery(ctx context.Context, core string, q engine.Query) error {
	if err := b.call("delete", core); err != nil {
		return err
	}
	return b.Engine.DeleteByQuery(ctx, core, q)
}

func (b *recordingBackend) PointAlias(ctx context.Context, core string) error {
	if err := b.call("alias", core); err != nil {
		return err
	}
	return b.Engine.PointAlias(ctx, core)
}

// --- wiring ---

type testEnv struct {
	catalog   *fakeCatalog
	structure *fakeStructure
	fields    *fakeFields
	tx        *fakeTx
	backend   *recordingBackend
	cores     *cores.Registry
	deps      Dependencies
}

func newTestEnv(t *testing.T, primary, reindex string) *testEnv {
	t.Helper()
	reg, err := cores.NewRegistry(primary, reindex)
	require.NoError(t, err)

	env := &testEnv{
		catalog:   &fakeCatalog{readErr: map[int]error{}},
		structure: newFakeStructure(),
		fields:    &fakeFields{},
		tx:        &fakeTx{},
		backend:   newRecordingBackend(""),
		cores:     reg,
	}
	env.fields.product = []*domain.Field{
		newTestField(t, domain.KindProduct, "name", "name", []domain.FieldType{domain.FieldTypeText}, ftype(domain.FieldTypeString)),
	}
	env.fields.sku = []*domain.Field{
		newTestField(t, domain.KindSku, "name", "name", []domain.FieldType{domain.FieldTypeText}, nil),
	}
	env.rewire()
	return env
}

// rewire refreshes deps after a collaborator was replaced.
func (e *testEnv) rewire() {
	e.deps = Dependencies{
		Catalog:   e.catalog,
		Structure: e.structure,
		Fields:    e.fields,
		Locales:   fakeLocales{{Code: "en_US", Default: true}},
		Tx:        e.tx,
		Backend:   e.backend,
		Cores:     e.cores,
		Logger:    testLogger(),
	}
}

func (e *testEnv) ctx() context.Context {
	return evalctx.With(context.Background(), evalctx.Context{Now: testNow})
}
