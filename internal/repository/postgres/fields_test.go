package postgres

import (
	"context"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/repository"
)

var fieldColumnNames = []string{
	"id", "name", "abbreviation", "property_path", "searchable", "facet_type", "translatable", "searchable_types",
}

func newTestCompiler(t *testing.T) *repository.Compiler {
	t.Helper()
	c, err := repository.NewCompiler(16, testLogger())
	require.NoError(t, err)
	return c
}

func TestFieldCatalog_ReadAllProductFields(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM search_fields f WHERE f.kind = \\$1").
		WithArgs("product").
		WillReturnRows(pgxmock.NewRows(fieldColumnNames).
			AddRow(int64(1), "name", "name", "name", true, strPtr("s"), true, []string{"t", "s"}).
			AddRow(int64(2), "heat", "heat", "productAttributes.heatRange", false, strPtr("i"), false, []string{}).
			AddRow(int64(3), "bogus", "bogus", "no.such.path", true, (*string)(nil), false, []string{"s"}))

	fields, err := NewFieldCatalog(mock, newTestCompiler(t)).ReadAllProductFields(context.Background())
	require.NoError(t, err)
	require.Len(t, fields, 3)

	name := fields[0]
	assert.Equal(t, domain.KindProduct, name.Kind)
	assert.Equal(t, []domain.FieldType{domain.FieldTypeText, domain.FieldTypeString}, name.SearchableTypes)
	assert.Equal(t, domain.FieldTypeString, *name.FacetType)
	assert.True(t, name.Translatable)

	v, err := name.Resolver(context.Background(), &domain.Product{ID: 1, Name: "Hot Sauce"})
	require.NoError(t, err)
	assert.Equal(t, "Hot Sauce", v)

	assert.Nil(t, fields[2].FacetType)
	_, err = fields[2].Resolver(context.Background(), &domain.Product{ID: 1})
	assert.ErrorIs(t, err, repository.ErrUnknownProperty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFieldCatalog_ReadAllSkuFields_UnknownType(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM search_fields f").
		WithArgs("sku").
		WillReturnRows(pgxmock.NewRows(fieldColumnNames).
			AddRow(int64(7), "price", "price", "price", true, (*string)(nil), false, []string{"money"}))

	_, err := NewFieldCatalog(mock, newTestCompiler(t)).ReadAllSkuFields(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search field 7")
}
