package domain

import (
	"context"
	"fmt"
)

// FieldType is the index type suffix of an emitted field name.
type FieldType string

// Supported field types.
const (
	FieldTypeBoolean FieldType = "b"
	FieldTypeDate    FieldType = "dt"
	FieldTypeDecimal FieldType = "d"
	FieldTypeInteger FieldType = "i"
	FieldTypeLong    FieldType = "l"
	FieldTypePrice   FieldType = "p"
	FieldTypeString  FieldType = "s"
	FieldTypeStrings FieldType = "ss"
	FieldTypeText    FieldType = "t"
	FieldTypeTexts   FieldType = "txt"
)

// ValidFieldTypes returns every supported field type.
func ValidFieldTypes() []FieldType {
	return []FieldType{
		FieldTypeBoolean, FieldTypeDate, FieldTypeDecimal, FieldTypeInteger, FieldTypeLong,
		FieldTypePrice, FieldTypeString, FieldTypeStrings, FieldTypeText, FieldTypeTexts,
	}
}

// ParseFieldType validates a field type suffix.
func ParseFieldType(s string) (FieldType, error) {
	for _, t := range ValidFieldTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown field type %q", s)
}

// Resolver reads the value of a field from an item. The locale to resolve
// for, if any, travels in ctx. A nil value means the item has no value.
type Resolver func(ctx context.Context, item IndexableItem) (any, error)

// Field is an indexable property definition.
type Field struct {
	ID              int64       `json:"id" yaml:"id"`
	Kind            Kind        `json:"kind" yaml:"kind"`
	Name            string      `json:"name" yaml:"name"`
	Abbreviation    string      `json:"abbreviation" yaml:"abbreviation"`
	PropertyPath    string      `json:"property_path" yaml:"property"`
	Searchable      bool        `json:"searchable" yaml:"searchable"`
	SearchableTypes []FieldType `json:"searchable_types,omitempty" yaml:"searchable_types"`
	FacetType       *FieldType  `json:"facet_type,omitempty" yaml:"facet_type"`
	Translatable    bool        `json:"translatable" yaml:"translatable"`

	// Resolver is bound when the field catalog is loaded.
	Resolver Resolver `json:"-" yaml:"-"`
}

// QualifiedName identifies the field in log output.
func (f *Field) QualifiedName() string {
	return string(f.Kind) + "." + f.PropertyPath
}

// Locale is a locale the catalog is translated into.
type Locale struct {
	Code    string `json:"code"`
	Default bool   `json:"default"`
}
