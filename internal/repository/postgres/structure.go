package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/catalogindex/internal/structure"
	"github.com/utafrali/catalogindex/pkg/database"
)

// StructureReader loads product categories, display orders and category
// ancestry into a catalog structure cache.
type StructureReader struct {
	db database.DBTX
}

// NewStructureReader creates a new PostgreSQL-backed structure reader.
func NewStructureReader(db database.DBTX) *StructureReader {
	return &StructureReader{db: db}
}

// PopulateProductCatalogStructure implements structure.Populator.
func (r *StructureReader) PopulateProductCatalogStructure(ctx context.Context, productIDs []int64, cache *structure.Cache) error {
	if len(productIDs) == 0 {
		return nil
	}
	categories, err := r.loadProductCategories(ctx, productIDs, cache)
	if err != nil {
		return err
	}

	var unknown []int64
	for _, id := range categories.Sorted() {
		if !cache.HasCategory(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	return r.loadAncestors(ctx, unknown, cache)
}

func (r *StructureReader) loadProductCategories(ctx context.Context, productIDs []int64, cache *structure.Cache) (categories structure.IDSet, err error) {
	query := `
		SELECT category_id, product_id, display_order
		FROM category_product_xref
		WHERE product_id = ANY($1)
		ORDER BY product_id, category_id`

	ctx, end := database.TraceQuery(ctx, "ReadProductCategories", query)
	defer func() { end(err) }()

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, productIDs)
	if err != nil {
		return nil, fmt.Errorf("query product categories: %w", err)
	}
	defer rows.Close()

	categories = structure.NewIDSet()
	for rows.Next() {
		var (
			categoryID, productID int64
			order                 *float64
		)
		if err := rows.Scan(&categoryID, &productID, &order); err != nil {
			return nil, fmt.Errorf("scan product category row: %w", err)
		}
		cache.AddProductParents(productID, categoryID)
		if order != nil {
			cache.AddDisplayOrder(categoryID, productID, *order)
		}
		categories.Add(categoryID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product category rows: %w", err)
	}
	return categories, nil
}

// loadAncestors walks category_xref upwards from categoryIDs. UNION drops
// repeated edges, so cycles terminate.
func (r *StructureReader) loadAncestors(ctx context.Context, categoryIDs []int64, cache *structure.Cache) (err error) {
	query := `
		WITH RECURSIVE ancestors (category_id, parent_category_id) AS (
			SELECT x.category_id, x.parent_category_id
			FROM category_xref x
			WHERE x.category_id = ANY($1)
			UNION
			SELECT x.category_id, x.parent_category_id
			FROM category_xref x
			JOIN ancestors a ON x.category_id = a.parent_category_id
		)
		SELECT category_id, parent_category_id FROM ancestors
		ORDER BY category_id, parent_category_id`

	ctx, end := database.TraceQuery(ctx, "ReadCategoryAncestors", query)
	defer func() { end(err) }()

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, categoryIDs)
	if err != nil {
		return fmt.Errorf("query category ancestors: %w", err)
	}
	defer rows.Close()

	// Categories without parents are recorded too so they are not queried again.
	for _, id := range categoryIDs {
		cache.AddCategoryParents(id)
	}
	for rows.Next() {
		var categoryID, parentID int64
		if err := rows.Scan(&categoryID, &parentID); err != nil {
			return fmt.Errorf("scan category ancestor row: %w", err)
		}
		cache.AddCategoryParents(categoryID, parentID)
		cache.AddCategoryParents(parentID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate category ancestor rows: %w", err)
	}
	return nil
}
