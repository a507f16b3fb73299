package domain

import (
	"fmt"
	"sort"
)

// Names of the basic fields every document carries.
const (
	FieldNamespace        = "namespace"
	FieldID               = "id"
	FieldProductID        = "productId"
	FieldSkuID            = "skuId"
	FieldExplicitCategory = "explicitCategory"
	FieldCategory         = "category"
)

// Document is a denormalized search document: field name to values.
// Values accumulate; nothing is overwritten.
type Document map[string][]any

// Add appends values to the named field.
func (d Document) Add(name string, values ...any) {
	d[name] = append(d[name], values...)
}

// Has reports whether the field has at least one value.
func (d Document) Has(name string) bool {
	return len(d[name]) > 0
}

// Contains reports whether the field already holds value.
func (d Document) Contains(name string, value any) bool {
	for _, v := range d[name] {
		if v == value {
			return true
		}
	}
	return false
}

// Values returns the values of the named field.
func (d Document) Values(name string) []any {
	return d[name]
}

// Names returns the field names in sorted order.
func (d Document) Names() []string {
	names := make([]string, 0, len(d))
	for n := range d {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ID returns the document id stored in the id field, or "" when absent.
func (d Document) ID() string {
	return d.first(FieldID)
}

// Namespace returns the namespace the document was built for.
func (d Document) Namespace() string {
	return d.first(FieldNamespace)
}

func (d Document) first(name string) string {
	v := d[name]
	if len(v) == 0 {
		return ""
	}
	if s, ok := v[0].(string); ok {
		return s
	}
	return fmt.Sprint(v[0])
}

// Source flattens the document for backends that store JSON objects:
// single-valued fields become scalars, multi-valued fields stay arrays.
func (d Document) Source() map[string]any {
	out := make(map[string]any, len(d))
	for name, values := range d {
		if len(values) == 1 {
			out[name] = values[0]
			continue
		}
		out[name] = values
	}
	return out
}
