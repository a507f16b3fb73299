package postgres

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogindex/internal/structure"
)

func TestStructureReader_Populate(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM category_product_xref WHERE product_id = ANY").
		WithArgs([]int64{1, 2}).
		WillReturnRows(pgxmock.NewRows([]string{"category_id", "product_id", "display_order"}).
			AddRow(int64(10), int64(1), float64Ptr(3)).
			AddRow(int64(11), int64(1), (*float64)(nil)).
			AddRow(int64(10), int64(2), float64Ptr(1)))
	mock.ExpectQuery("WITH RECURSIVE ancestors").
		WithArgs([]int64{10, 11}).
		WillReturnRows(pgxmock.NewRows([]string{"category_id", "parent_category_id"}).
			AddRow(int64(1), int64(10)).
			AddRow(int64(10), int64(1)).
			AddRow(int64(11), int64(1)))

	cache := structure.New()
	require.NoError(t, cache.Populate(context.Background(), NewStructureReader(mock), []int64{1, 2}))

	assert.Equal(t, []int64{10, 11}, cache.ParentCategoriesOfProduct(1))
	assert.Equal(t, []int64{10}, cache.ParentCategoriesOfProduct(2))
	assert.Equal(t, []int64{1}, cache.ParentCategoriesOfCategory(10))
	assert.Equal(t, []int64{10}, cache.ParentCategoriesOfCategory(1))

	order, ok := cache.DisplayOrder(10, 1)
	assert.True(t, ok)
	assert.Equal(t, 3.0, order)
	_, ok = cache.DisplayOrder(11, 1)
	assert.False(t, ok)

	assert.True(t, cache.Populated(1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStructureReader_SkipsKnownCategories(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM category_product_xref").
		WithArgs([]int64{3}).
		WillReturnRows(pgxmock.NewRows([]string{"category_id", "product_id", "display_order"}).
			AddRow(int64(10), int64(3), float64Ptr(2)))

	cache := structure.New()
	cache.AddCategoryParents(10, 1)

	require.NoError(t, NewStructureReader(mock).PopulateProductCatalogStructure(context.Background(), []int64{3}, cache))
	assert.Equal(t, []int64{10}, cache.ParentCategoriesOfProduct(3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStructureReader_RootCategoryIsRemembered(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM category_product_xref").
		WithArgs([]int64{4}).
		WillReturnRows(pgxmock.NewRows([]string{"category_id", "product_id", "display_order"}).
			AddRow(int64(1), int64(4), (*float64)(nil)))
	mock.ExpectQuery("WITH RECURSIVE ancestors").
		WithArgs([]int64{1}).
		WillReturnRows(pgxmock.NewRows([]string{"category_id", "parent_category_id"}))

	cache := structure.New()
	require.NoError(t, NewStructureReader(mock).PopulateProductCatalogStructure(context.Background(), []int64{4}, cache))
	assert.True(t, cache.HasCategory(1))
	assert.Empty(t, cache.ParentCategoriesOfCategory(1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStructureReader_NoProducts(t *testing.T) {
	mock := newMock(t)
	require.NoError(t, NewStructureReader(mock).PopulateProductCatalogStructure(context.Background(), nil, structure.New()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStructureReader_QueryError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM category_product_xref").
		WithArgs([]int64{1}).
		WillReturnError(errors.New("canceling statement due to statement timeout"))

	err := NewStructureReader(mock).PopulateProductCatalogStructure(context.Background(), []int64{1}, structure.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query product categories")
}
