package index

import (
	"context"

	"github.com/utafrali/catalogindex/internal/domain"
)

// Result tells the builder what an extension did.
type Result int

const (
	// NotHandled leaves the default behavior in place.
	NotHandled Result = iota
	// Handled means the extension did the work itself.
	Handled
	// Veto excludes the item (basic fields) or the field (property values).
	Veto
)

func (r Result) String() string {
	switch r {
	case Handled:
		return "handled"
	case Veto:
		return "veto"
	default:
		return "not_handled"
	}
}

// Extension customizes document building.
type Extension interface {
	// AttachAdditionalBasicFields may add fields after the basic ones.
	// Returning Veto drops the whole document.
	AttachAdditionalBasicFields(ctx context.Context, item domain.IndexableItem, doc domain.Document) Result

	// AddPropertyValues may resolve a field itself. When Handled, the returned
	// map of locale prefix to value replaces the default resolution.
	AddPropertyValues(ctx context.Context, item domain.IndexableItem, field *domain.Field, fieldType domain.FieldType, locales []domain.Locale) (map[string]any, Result)
}

// NopExtension handles nothing.
type NopExtension struct{}

func (NopExtension) AttachAdditionalBasicFields(context.Context, domain.IndexableItem, domain.Document) Result {
	return NotHandled
}

func (NopExtension) AddPropertyValues(context.Context, domain.IndexableItem, *domain.Field, domain.FieldType, []domain.Locale) (map[string]any, Result) {
	return nil, NotHandled
}

// Extensions runs several extensions in order.
type Extensions []Extension

// AttachAdditionalBasicFields gives every extension a turn; the first Veto stops the chain.
func (es Extensions) AttachAdditionalBasicFields(ctx context.Context, item domain.IndexableItem, doc domain.Document) Result {
	result := NotHandled
	for _, e := range es {
		switch e.AttachAdditionalBasicFields(ctx, item, doc) {
		case Veto:
			return Veto
		case Handled:
			result = Handled
		}
	}
	return result
}

// AddPropertyValues returns the result of the first extension that handles or vetoes the field.
func (es Extensions) AddPropertyValues(ctx context.Context, item domain.IndexableItem, field *domain.Field, fieldType domain.FieldType, locales []domain.Locale) (map[string]any, Result) {
	for _, e := range es {
		values, r := e.AddPropertyValues(ctx, item, field, fieldType, locales)
		if r != NotHandled {
			return values, r
		}
	}
	return nil, NotHandled
}
