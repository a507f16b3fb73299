package domain

import (
	"time"
)

// Kind identifies the unit of indexing.
type Kind string

// Indexable kinds.
const (
	KindProduct Kind = "product"
	KindSku     Kind = "sku"
)

// ValidKinds returns the set of valid indexable kinds.
func ValidKinds() []Kind {
	return []Kind{KindProduct, KindSku}
}

// IsValidKind checks whether the given string names an indexable kind.
func IsValidKind(kind string) bool {
	for _, k := range ValidKinds() {
		if string(k) == kind {
			return true
		}
	}
	return false
}

// ActiveWindow is the period during which a catalog item is sellable.
type ActiveWindow struct {
	Start *time.Time `json:"active_start,omitempty"`
	End   *time.Time `json:"active_end,omitempty"`
}

// IsActive reports whether now falls inside the window: the start must be
// set and not in the future, and the end, when set, must be after now.
func (w ActiveWindow) IsActive(now time.Time) bool {
	if w.Start == nil || w.Start.After(now) {
		return false
	}
	return w.End == nil || w.End.After(now)
}

// IndexableItem is a catalog row that can be turned into a search document.
type IndexableItem interface {
	ItemID() int64
	Kind() Kind
	// OwnerProductID is the id of the product whose categories the item inherits.
	OwnerProductID() int64
	ActiveWindow() ActiveWindow
}

// Valuer is implemented by attribute wrappers that carry a single value.
type Valuer interface {
	AttributeValue() any
}

// Attribute is a named custom attribute of a product or sku.
type Attribute struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// AttributeValue implements Valuer.
func (a Attribute) AttributeValue() any { return a.Value }

// Translations maps locale code to property name to translated text.
type Translations map[string]map[string]string

// Lookup returns the translation of property for locale.
func (t Translations) Lookup(locale, property string) (string, bool) {
	props, ok := t[locale]
	if !ok {
		return "", false
	}
	v, ok := props[property]
	return v, ok
}

// Product represents a product in the catalog.
type Product struct {
	ID                    int64                `json:"id"`
	Name                  string               `json:"name"`
	Description           string               `json:"description"`
	LongDescription       string               `json:"long_description"`
	Manufacturer          string               `json:"manufacturer"`
	Model                 string               `json:"model"`
	URL                   string               `json:"url"`
	CanSellWithoutOptions bool                 `json:"can_sell_without_options"`
	IsBundle              bool                 `json:"is_bundle"`
	DefaultSkuID          *int64               `json:"default_sku_id,omitempty"`
	AdditionalSkuIDs      []int64              `json:"additional_sku_ids,omitempty"`
	Active                ActiveWindow         `json:"active_window"`
	Attributes            map[string]Attribute `json:"attributes,omitempty"`
	Translations          Translations         `json:"translations,omitempty"`
}

// ItemID implements IndexableItem.
func (p *Product) ItemID() int64 { return p.ID }

// Kind implements IndexableItem.
func (p *Product) Kind() Kind { return KindProduct }

// OwnerProductID implements IndexableItem.
func (p *Product) OwnerProductID() int64 { return p.ID }

// ActiveWindow implements IndexableItem.
func (p *Product) ActiveWindow() ActiveWindow { return p.Active }

// HasAdditionalSkus reports whether the product has skus besides its default one.
func (p *Product) HasAdditionalSkus() bool { return len(p.AdditionalSkuIDs) > 0 }

// Sku represents a sellable unit of a product.
type Sku struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	RetailPrice *float64 `json:"retail_price,omitempty"`
	SalePrice   *float64 `json:"sale_price,omitempty"`
	// Product is the owning product.
	Product *Product `json:"-"`
	// DefaultProduct is set when this sku is the default sku of that product.
	DefaultProduct *Product             `json:"-"`
	Active         ActiveWindow         `json:"active_window"`
	Attributes     map[string]Attribute `json:"attributes,omitempty"`
	Translations   Translations         `json:"translations,omitempty"`
}

// ItemID implements IndexableItem.
func (s *Sku) ItemID() int64 { return s.ID }

// Kind implements IndexableItem.
func (s *Sku) Kind() Kind { return KindSku }

// OwnerProductID implements IndexableItem. A sku without an owning product
// reports 0 and inherits no categories.
func (s *Sku) OwnerProductID() int64 {
	if s.Product == nil {
		return 0
	}
	return s.Product.ID
}

// ActiveWindow implements IndexableItem.
func (s *Sku) ActiveWindow() ActiveWindow { return s.Active }

// IsDefault reports whether the sku is the default sku of its product.
func (s *Sku) IsDefault() bool { return s.DefaultProduct != nil }
