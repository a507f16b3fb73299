package index

import (
	"fmt"

	"github.com/utafrali/catalogindex/internal/domain"
)

// DocumentID returns the id a document is stored under: <namespace>_<kind>_<id>.
func DocumentID(namespace string, item domain.IndexableItem) string {
	return fmt.Sprintf("%s_%s_%d", namespace, item.Kind(), item.ItemID())
}

// CategorySortFieldName returns the field holding the display order of a
// product inside the category.
func CategorySortFieldName(categoryID int64) string {
	return fmt.Sprintf("category_%d_sort_%s", categoryID, domain.FieldTypeDecimal)
}

// PropertyFieldName returns <prefix><abbreviation>_<type>.
func PropertyFieldName(prefix string, f *domain.Field, t domain.FieldType) string {
	return prefix + f.Abbreviation + "_" + string(t)
}

// localePrefix returns the field-name prefix for a locale code, "" for none.
func localePrefix(code string) string {
	if code == "" {
		return ""
	}
	return code + "_"
}
