package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/repository"
	"github.com/utafrali/catalogindex/pkg/database"
)

// FieldCatalog reads search field definitions and binds their resolvers.
type FieldCatalog struct {
	db       database.DBTX
	compiler *repository.Compiler
}

// NewFieldCatalog creates a new PostgreSQL-backed field catalog.
func NewFieldCatalog(db database.DBTX, compiler *repository.Compiler) *FieldCatalog {
	return &FieldCatalog{db: db, compiler: compiler}
}

// ReadAllProductFields returns the product fields ordered by id.
func (r *FieldCatalog) ReadAllProductFields(ctx context.Context) ([]*domain.Field, error) {
	return r.readFields(ctx, domain.KindProduct)
}

// ReadAllSkuFields returns the sku fields ordered by id.
func (r *FieldCatalog) ReadAllSkuFields(ctx context.Context) ([]*domain.Field, error) {
	return r.readFields(ctx, domain.KindSku)
}

func (r *FieldCatalog) readFields(ctx context.Context, kind domain.Kind) (fields []*domain.Field, err error) {
	query := `
		SELECT f.id, f.name, f.abbreviation, f.property_path, f.searchable, f.facet_type, f.translatable,
			ARRAY(SELECT t.field_type FROM search_field_types t WHERE t.field_id = f.id ORDER BY t.position, t.field_type) AS searchable_types
		FROM search_fields f
		WHERE f.kind = $1
		ORDER BY f.id`

	ctx, end := database.TraceQuery(ctx, "ReadSearchFields", query)
	defer func() { end(err) }()

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query %s search fields: %w", kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f         = domain.Field{Kind: kind}
			facetType *string
			types     []string
		)
		if err := rows.Scan(&f.ID, &f.Name, &f.Abbreviation, &f.PropertyPath, &f.Searchable, &facetType, &f.Translatable, &types); err != nil {
			return nil, fmt.Errorf("scan search field row: %w", err)
		}
		if facetType != nil {
			t, err := domain.ParseFieldType(*facetType)
			if err != nil {
				return nil, fmt.Errorf("search field %d facet: %w", f.ID, err)
			}
			f.FacetType = &t
		}
		for _, s := range types {
			t, err := domain.ParseFieldType(s)
			if err != nil {
				return nil, fmt.Errorf("search field %d: %w", f.ID, err)
			}
			f.SearchableTypes = append(f.SearchableTypes, t)
		}
		fields = append(fields, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search field rows: %w", err)
	}

	r.compiler.Bind(fields)
	return fields, nil
}
