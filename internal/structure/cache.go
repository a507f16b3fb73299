// Package structure holds the catalog structure cache shared by the
// documents of one indexing operation: which categories a product sits in,
// which categories a category sits in, and the display order of a product
// within a category.
package structure

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// IDSet is a set of catalog ids.
type IDSet map[int64]struct{}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...int64) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id and reports whether it was absent.
func (s IDSet) Add(id int64) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Has reports whether id is in the set.
func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// DisplayOrderKey identifies a product within a category.
type DisplayOrderKey struct {
	CategoryID int64
	ProductID  int64
}

// Populator fills a cache for a set of product ids.
type Populator interface {
	PopulateProductCatalogStructure(ctx context.Context, productIDs []int64, cache *Cache) error
}

// Cache is the catalog structure of one indexing operation. Entries are
// only ever added: once a relation is known it is never changed or removed
// until Release.
type Cache struct {
	mu                sync.RWMutex
	parentsByProduct  map[int64]IDSet
	parentsByCategory map[int64]IDSet
	displayOrders     map[DisplayOrderKey]float64
	populated         IDSet
	released          bool
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		parentsByProduct:  make(map[int64]IDSet),
		parentsByCategory: make(map[int64]IDSet),
		displayOrders:     make(map[DisplayOrderKey]float64),
		populated:         make(IDSet),
	}
}

// Populate loads the structure of the given products through p. Products
// already populated are skipped, so repeated calls only fetch what is new.
func (c *Cache) Populate(ctx context.Context, p Populator, productIDs []int64) error {
	c.mu.RLock()
	missing := make([]int64, 0, len(productIDs))
	seen := make(IDSet, len(productIDs))
	for _, id := range productIDs {
		if !c.populated.Has(id) && seen.Add(id) {
			missing = append(missing, id)
		}
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return nil
	}
	if err := p.PopulateProductCatalogStructure(ctx, missing, c); err != nil {
		return fmt.Errorf("populate catalog structure for %d products: %w", len(missing), err)
	}
	c.MarkPopulated(missing...)
	return nil
}

// MarkPopulated records that the structure of the given products is loaded,
// including products that turned out to have no categories.
func (c *Cache) MarkPopulated(productIDs ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range productIDs {
		c.populated.Add(id)
	}
}

// AddProductParents records categories the product is explicitly placed in.
func (c *Cache) AddProductParents(productID int64, categoryIDs ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	merge(c.parentsByProduct, productID, categoryIDs)
}

// AddCategoryParents records parents of a category.
func (c *Cache) AddCategoryParents(categoryID int64, parentIDs ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	merge(c.parentsByCategory, categoryID, parentIDs)
}

// HasCategory reports whether the parents of categoryID are already known.
func (c *Cache) HasCategory(categoryID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.parentsByCategory[categoryID]
	return ok
}

// AddDisplayOrder records the display order of a product in a category.
// The first recorded value wins.
func (c *Cache) AddDisplayOrder(categoryID, productID int64, order float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := DisplayOrderKey{CategoryID: categoryID, ProductID: productID}
	if _, ok := c.displayOrders[key]; !ok {
		c.displayOrders[key] = order
	}
}

func merge(m map[int64]IDSet, id int64, values []int64) {
	set, ok := m[id]
	if !ok {
		set = make(IDSet, len(values))
		m[id] = set
	}
	for _, v := range values {
		set.Add(v)
	}
}

// ParentCategoriesOfProduct returns the explicit categories of a product in
// ascending order, or nil.
func (c *Cache) ParentCategoriesOfProduct(productID int64) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if set, ok := c.parentsByProduct[productID]; ok {
		return set.Sorted()
	}
	return nil
}

// ParentCategoriesOfCategory returns the parents of a category in ascending
// order, or nil.
func (c *Cache) ParentCategoriesOfCategory(categoryID int64) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if set, ok := c.parentsByCategory[categoryID]; ok {
		return set.Sorted()
	}
	return nil
}

// DisplayOrder returns the display order of a product in a category.
func (c *Cache) DisplayOrder(categoryID, productID int64) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.displayOrders[DisplayOrderKey{CategoryID: categoryID, ProductID: productID}]
	return v, ok
}

// Populated reports whether the structure of productID has been loaded.
func (c *Cache) Populated(productID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.populated.Has(productID)
}

type snapshot struct {
	ParentCategoriesByProduct  map[int64][]int64  `json:"parent_categories_by_product"`
	ParentCategoriesByCategory map[int64][]int64  `json:"parent_categories_by_category"`
	DisplayOrders              map[string]float64 `json:"display_orders"`
}

// SizeEstimate approximates the memory held by the cache as the length of
// its JSON encoding. It walks the whole structure and is meant for
// diagnostics only.
func (c *Cache) SizeEstimate() int {
	c.mu.RLock()
	snap := snapshot{
		ParentCategoriesByProduct:  flatten(c.parentsByProduct),
		ParentCategoriesByCategory: flatten(c.parentsByCategory),
		DisplayOrders:              make(map[string]float64, len(c.displayOrders)),
	}
	for k, v := range c.displayOrders {
		snap.DisplayOrders[fmt.Sprintf("%d-%d", k.CategoryID, k.ProductID)] = v
	}
	c.mu.RUnlock()

	b, err := json.Marshal(snap)
	if err != nil {
		return 0
	}
	return len(b)
}

func flatten(m map[int64]IDSet) map[int64][]int64 {
	out := make(map[int64][]int64, len(m))
	for k, set := range m {
		out[k] = set.Sorted()
	}
	return out
}

// Release drops every entry and returns the size estimate taken just
// before. Releasing twice returns 0.
func (c *Cache) Release() int {
	if c.Released() {
		return 0
	}
	size := c.SizeEstimate()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.parentsByProduct = make(map[int64]IDSet)
	c.parentsByCategory = make(map[int64]IDSet)
	c.displayOrders = make(map[DisplayOrderKey]float64)
	c.populated = make(IDSet)
	c.released = true
	return size
}

// Released reports whether Release has been called.
func (c *Cache) Released() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.released
}
