package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/evalctx"
	"github.com/utafrali/catalogindex/pkg/database"
	apperrors "github.com/utafrali/catalogindex/pkg/errors"
)

// activeWhere selects rows of alias whose active window contains $1.
func activeWhere(alias string) string {
	return fmt.Sprintf(
		"%[1]s.active_start IS NOT NULL AND %[1]s.active_start <= $1 AND (%[1]s.active_end IS NULL OR %[1]s.active_end > $1)",
		alias,
	)
}

const productColumns = `
	p.id, p.name, p.description, p.long_description, p.manufacturer, p.model, p.url,
	p.can_sell_without_options, p.is_bundle, p.default_sku_id, p.active_start, p.active_end,
	p.attributes, p.translations,
	ARRAY(SELECT s.id FROM skus s WHERE s.product_id = p.id AND s.id IS DISTINCT FROM p.default_sku_id ORDER BY s.id) AS additional_sku_ids`

const skuColumns = `
	s.id, s.product_id, s.name, s.description, s.retail_price, s.sale_price,
	s.active_start, s.active_end, s.attributes, s.translations`

// CatalogReader implements repository.CatalogReader using PostgreSQL.
// Active windows are evaluated against the clock of the evaluation context.
type CatalogReader struct {
	db database.DBTX
}

// NewCatalogReader creates a new PostgreSQL-backed catalog reader.
func NewCatalogReader(db database.DBTX) *CatalogReader {
	return &CatalogReader{db: db}
}

// CountActiveProducts returns the number of products active now.
func (r *CatalogReader) CountActiveProducts(ctx context.Context) (int, error) {
	return r.count(ctx, "CountActiveProducts", `SELECT COUNT(*) FROM products p WHERE `+activeWhere("p"))
}

// CountActiveSkus returns the number of skus active now.
func (r *CatalogReader) CountActiveSkus(ctx context.Context) (int, error) {
	return r.count(ctx, "CountActiveSkus", `SELECT COUNT(*) FROM skus s WHERE `+activeWhere("s"))
}

func (r *CatalogReader) count(ctx context.Context, op, query string) (n int, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	var total int64
	if err = database.Conn(ctx, r.db).QueryRow(ctx, query, evalctx.Now(ctx)).Scan(&total); err != nil {
		return 0, fmt.Errorf("count active rows: %w", err)
	}
	return int(total), nil
}

// ReadActiveProducts returns one page of active products ordered by id.
func (r *CatalogReader) ReadActiveProducts(ctx context.Context, page, pageSize int) (products []*domain.Product, err error) {
	query := `SELECT ` + productColumns + `
		FROM products p
		WHERE ` + activeWhere("p") + `
		ORDER BY p.id
		LIMIT $2 OFFSET $3`

	ctx, end := database.TraceQuery(ctx, "ReadActiveProducts", query)
	defer func() { end(err) }()

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, evalctx.Now(ctx), pageSize, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("query active products: %w", err)
	}
	return collectProducts(rows)
}

// ReadActiveSkus returns one page of active skus ordered by id with their
// owning products attached.
func (r *CatalogReader) ReadActiveSkus(ctx context.Context, page, pageSize int) (skus []*domain.Sku, err error) {
	query := `SELECT ` + skuColumns + `
		FROM skus s
		WHERE ` + activeWhere("s") + `
		ORDER BY s.id
		LIMIT $2 OFFSET $3`

	ctx, end := database.TraceQuery(ctx, "ReadActiveSkus", query)
	defer func() { end(err) }()

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, evalctx.Now(ctx), pageSize, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("query active skus: %w", err)
	}
	skus, productIDs, err := collectSkus(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachProducts(ctx, skus, productIDs); err != nil {
		return nil, err
	}
	return skus, nil
}

// FindProduct retrieves a product by id.
func (r *CatalogReader) FindProduct(ctx context.Context, id int64) (p *domain.Product, err error) {
	query := `SELECT ` + productColumns + ` FROM products p WHERE p.id = $1`

	ctx, end := database.TraceQuery(ctx, "FindProduct", query)
	defer func() { end(err) }()

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	products, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, apperrors.NotFound("product", strconv.FormatInt(id, 10))
	}
	return products[0], nil
}

// FindSku retrieves a sku by id with its owning product attached.
func (r *CatalogReader) FindSku(ctx context.Context, id int64) (s *domain.Sku, err error) {
	query := `SELECT ` + skuColumns + ` FROM skus s WHERE s.id = $1`

	ctx, end := database.TraceQuery(ctx, "FindSku", query)
	defer func() { end(err) }()

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query sku: %w", err)
	}
	skus, productIDs, err := collectSkus(rows)
	if err != nil {
		return nil, err
	}
	if len(skus) == 0 {
		return nil, apperrors.NotFound("sku", strconv.FormatInt(id, 10))
	}
	if err := r.attachProducts(ctx, skus, productIDs); err != nil {
		return nil, err
	}
	return skus[0], nil
}

// attachProducts loads the owning products of skus in one query.
func (r *CatalogReader) attachProducts(ctx context.Context, skus []*domain.Sku, productIDs []int64) (err error) {
	if len(productIDs) == 0 {
		return nil
	}
	query := `SELECT ` + productColumns + ` FROM products p WHERE p.id = ANY($1)`

	ctx, end := database.TraceQuery(ctx, "ReadSkuProducts", query)
	defer func() { end(err) }()

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, productIDs)
	if err != nil {
		return fmt.Errorf("query sku products: %w", err)
	}
	products, err := collectProducts(rows)
	if err != nil {
		return err
	}

	byID := make(map[int64]*domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for _, s := range skus {
		if s.Product == nil {
			continue
		}
		p, ok := byID[s.Product.ID]
		if !ok {
			return fmt.Errorf("sku %d references missing product %d", s.ID, s.Product.ID)
		}
		s.Product = p
		if p.DefaultSkuID != nil && *p.DefaultSkuID == s.ID {
			s.DefaultProduct = p
		}
	}
	return nil
}

func collectProducts(rows pgx.Rows) ([]*domain.Product, error) {
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		var (
			p                 domain.Product
			start, end        *time.Time
			attrsJSON, trJSON []byte
			additional        []int64
		)
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.LongDescription, &p.Manufacturer, &p.Model, &p.URL,
			&p.CanSellWithoutOptions, &p.IsBundle, &p.DefaultSkuID, &start, &end,
			&attrsJSON, &trJSON, &additional,
		); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		p.Active = domain.ActiveWindow{Start: start, End: end}
		p.AdditionalSkuIDs = additional

		var err error
		if p.Attributes, err = decodeAttributes(attrsJSON); err != nil {
			return nil, fmt.Errorf("product %d: %w", p.ID, err)
		}
		if p.Translations, err = decodeTranslations(trJSON); err != nil {
			return nil, fmt.Errorf("product %d: %w", p.ID, err)
		}
		products = append(products, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

// collectSkus scans sku rows. Owning products are returned as stubs
// carrying only their id, together with the distinct ids to load.
func collectSkus(rows pgx.Rows) ([]*domain.Sku, []int64, error) {
	defer rows.Close()

	var (
		skus []*domain.Sku
		ids  []int64
		seen = make(map[int64]bool)
	)
	for rows.Next() {
		var (
			s                 domain.Sku
			productID         *int64
			start, end        *time.Time
			attrsJSON, trJSON []byte
		)
		if err := rows.Scan(
			&s.ID, &productID, &s.Name, &s.Description, &s.RetailPrice, &s.SalePrice,
			&start, &end, &attrsJSON, &trJSON,
		); err != nil {
			return nil, nil, fmt.Errorf("scan sku row: %w", err)
		}
		s.Active = domain.ActiveWindow{Start: start, End: end}

		var err error
		if s.Attributes, err = decodeAttributes(attrsJSON); err != nil {
			return nil, nil, fmt.Errorf("sku %d: %w", s.ID, err)
		}
		if s.Translations, err = decodeTranslations(trJSON); err != nil {
			return nil, nil, fmt.Errorf("sku %d: %w", s.ID, err)
		}
		if productID != nil {
			s.Product = &domain.Product{ID: *productID}
			if !seen[*productID] {
				seen[*productID] = true
				ids = append(ids, *productID)
			}
		}
		skus = append(skus, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate sku rows: %w", err)
	}
	return skus, ids, nil
}

var errMalformedJSON = errors.New("malformed json column")

func decodeAttributes(raw []byte) (map[string]domain.Attribute, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: attributes: %w", errMalformedJSON, err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	attrs := make(map[string]domain.Attribute, len(values))
	for name, v := range values {
		attrs[name] = domain.Attribute{Name: name, Value: v}
	}
	return attrs, nil
}

func decodeTranslations(raw []byte) (domain.Translations, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tr domain.Translations
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("%w: translations: %w", errMalformedJSON, err)
	}
	if len(tr) == 0 {
		return nil, nil
	}
	return tr, nil
}
