package repository

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/evalctx"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptrFloat(f float64) *float64 { return &f }

func newTestProduct() *domain.Product {
	return &domain.Product{
		ID:           7,
		Name:         "Hot Sauce",
		Manufacturer: "Acme",
		Attributes: map[string]domain.Attribute{
			"heatRange": {Name: "heatRange", Value: "5"},
		},
		Translations: domain.Translations{"es_ES": {"name": "Salsa Picante"}},
	}
}

func resolve(t *testing.T, ctx context.Context, kind domain.Kind, path string, item domain.IndexableItem) any {
	t.Helper()
	r, err := CompileResolver(kind, path)
	require.NoError(t, err)
	v, err := r(ctx, item)
	require.NoError(t, err)
	return v
}

func TestCompileResolver_ProductProperties(t *testing.T) {
	ctx := context.Background()
	p := newTestProduct()

	assert.Equal(t, "Hot Sauce", resolve(t, ctx, domain.KindProduct, "name", p))
	assert.Equal(t, int64(7), resolve(t, ctx, domain.KindProduct, "id", p))
	assert.Nil(t, resolve(t, ctx, domain.KindProduct, "model", p), "empty strings are absent")
}

func TestCompileResolver_TranslatesByContextLocale(t *testing.T) {
	p := newTestProduct()

	es := evalctx.WithLocale(context.Background(), "es_ES")
	assert.Equal(t, "Salsa Picante", resolve(t, es, domain.KindProduct, "name", p))

	fr := evalctx.WithLocale(context.Background(), "fr_FR")
	assert.Equal(t, "Hot Sauce", resolve(t, fr, domain.KindProduct, "name", p))
}

func TestCompileResolver_AttributeReturnsWrapper(t *testing.T) {
	p := newTestProduct()

	v := resolve(t, context.Background(), domain.KindProduct, "productAttributes.heatRange", p)
	attr, ok := v.(domain.Attribute)
	require.True(t, ok)
	assert.Equal(t, "5", attr.AttributeValue())

	assert.Nil(t, resolve(t, context.Background(), domain.KindProduct, "productAttributes.missing", p))
}

func TestCompileResolver_SkuProperties(t *testing.T) {
	ctx := context.Background()
	s := &domain.Sku{ID: 70, RetailPrice: ptrFloat(10), Product: newTestProduct()}

	assert.Equal(t, 10.0, resolve(t, ctx, domain.KindSku, "price", s))
	assert.Nil(t, resolve(t, ctx, domain.KindSku, "salePrice", s))
	assert.Equal(t, "Acme", resolve(t, ctx, domain.KindSku, "product.manufacturer", s))

	s.SalePrice = ptrFloat(8)
	assert.Equal(t, 8.0, resolve(t, ctx, domain.KindSku, "price", s))
	assert.Nil(t, resolve(t, ctx, domain.KindSku, "product.name", &domain.Sku{ID: 71}))
}

func TestCompileResolver_UnknownPath(t *testing.T) {
	_, err := CompileResolver(domain.KindProduct, "weight")
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = CompileResolver(domain.KindSku, "product.weight")
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = CompileResolver("bundle", "name")
	assert.ErrorIs(t, err, ErrUnknownProperty)
}

func TestCompileResolver_WrongItemKind(t *testing.T) {
	r, err := CompileResolver(domain.KindSku, "name")
	require.NoError(t, err)

	_, err = r(context.Background(), newTestProduct())
	assert.Error(t, err)
}

func TestCompiler_CachesAndBinds(t *testing.T) {
	c, err := NewCompiler(4, testLogger())
	require.NoError(t, err)

	fields := []*domain.Field{
		{Kind: domain.KindProduct, Name: "name", PropertyPath: "name"},
		{Kind: domain.KindProduct, Name: "name2", PropertyPath: "name"},
		{Kind: domain.KindProduct, Name: "weight", PropertyPath: "weight"},
	}
	c.Bind(fields)

	assert.Equal(t, 1, c.Len())
	for _, f := range fields {
		require.NotNil(t, f.Resolver)
	}

	_, err = fields[2].Resolver(context.Background(), newTestProduct())
	assert.ErrorIs(t, err, ErrUnknownProperty)
}
