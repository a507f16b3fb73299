package repository

import (
	"context"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/structure"
)

// CatalogReader defines the read side of the catalog used for indexing.
// Pages are zero-indexed; the last page may be short.
type CatalogReader interface {
	// CountActiveProducts returns the number of products active at the evaluation time.
	CountActiveProducts(ctx context.Context) (int, error)

	// CountActiveSkus returns the number of skus active at the evaluation time.
	CountActiveSkus(ctx context.Context) (int, error)

	// ReadActiveProducts returns one page of active products ordered by id.
	ReadActiveProducts(ctx context.Context, page, pageSize int) ([]*domain.Product, error)

	// ReadActiveSkus returns one page of active skus ordered by id, each with
	// its owning product and, for default skus, the product it is default of.
	ReadActiveSkus(ctx context.Context, page, pageSize int) ([]*domain.Sku, error)

	// FindProduct retrieves a product by id regardless of its active window.
	FindProduct(ctx context.Context, id int64) (*domain.Product, error)

	// FindSku retrieves a sku by id regardless of its active window.
	FindSku(ctx context.Context, id int64) (*domain.Sku, error)
}

// StructureReader fills a catalog structure cache for a set of products.
type StructureReader interface {
	structure.Populator
}

// FieldCatalog lists the configured search fields. Returned fields carry a bound Resolver.
type FieldCatalog interface {
	ReadAllProductFields(ctx context.Context) ([]*domain.Field, error)
	ReadAllSkuFields(ctx context.Context) ([]*domain.Field, error)
}

// LocaleProvider lists the locales documents are built for.
type LocaleProvider interface {
	FindAllLocales(ctx context.Context) ([]domain.Locale, error)
}

// TxManager runs fn inside a transaction. The transaction is rolled back when
// fn returns an error or panics and committed otherwise.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
