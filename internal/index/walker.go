package index

import (
	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/structure"
)

// Walk adds categoryID and all of its ancestors to the category field of
// doc. Every parent enters visited before it is descended into, so cyclic
// category graphs terminate and each ancestor is walked once per document.
func Walk(doc domain.Document, cache *structure.Cache, categoryID int64, visited structure.IDSet) {
	if !doc.Contains(domain.FieldCategory, categoryID) {
		doc.Add(domain.FieldCategory, categoryID)
	}
	for _, parent := range cache.ParentCategoriesOfCategory(categoryID) {
		if visited.Add(parent) {
			Walk(doc, cache, parent, visited)
		}
	}
}
