// Package evalctx carries the evaluation context used while resolving
// catalog values: the locale, pricing considerations and the clock that
// decides which items are active.
package evalctx

import (
	"context"
	"maps"
	"time"
)

// Context is an immutable set of evaluation values.
type Context struct {
	LocaleCode string
	Currency   string
	// PricingConsiderations are opaque hints for price resolution.
	PricingConsiderations map[string]string
	// Now, when set, pins the active-date clock.
	Now time.Time
}

type ctxKey struct{}

// With returns a child of ctx carrying ec.
func With(ctx context.Context, ec Context) context.Context {
	ec.PricingConsiderations = maps.Clone(ec.PricingConsiderations)
	return context.WithValue(ctx, ctxKey{}, ec)
}

// From returns the evaluation context of ctx and whether one was set.
// The returned value is a copy; mutating it does not affect ctx.
func From(ctx context.Context) (Context, bool) {
	ec, ok := ctx.Value(ctxKey{}).(Context)
	if ok {
		ec.PricingConsiderations = maps.Clone(ec.PricingConsiderations)
	}
	return ec, ok
}

// Derive returns a child of ctx whose evaluation context is a copy of the
// parent's with edit applied. The parent is never modified.
func Derive(ctx context.Context, edit func(*Context)) context.Context {
	ec, _ := From(ctx)
	if edit != nil {
		edit(&ec)
	}
	return With(ctx, ec)
}

// WithLocale returns a child of ctx resolving values for locale.
func WithLocale(ctx context.Context, locale string) context.Context {
	return Derive(ctx, func(ec *Context) { ec.LocaleCode = locale })
}

// Locale returns the locale code of ctx, or "" when none is set.
func Locale(ctx context.Context) string {
	ec, _ := From(ctx)
	return ec.LocaleCode
}

// Now returns the pinned clock of ctx, falling back to the wall clock.
func Now(ctx context.Context) time.Time {
	if ec, ok := From(ctx); ok && !ec.Now.IsZero() {
		return ec.Now
	}
	return time.Now()
}

// Equal reports whether a and b hold the same values.
func Equal(a, b Context) bool {
	return a.LocaleCode == b.LocaleCode &&
		a.Currency == b.Currency &&
		a.Now.Equal(b.Now) &&
		maps.Equal(a.PricingConsiderations, b.PricingConsiderations)
}
