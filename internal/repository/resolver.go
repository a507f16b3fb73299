package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/evalctx"
)

// Property path prefixes with special meaning.
const (
	ProductAttributesPrefix = "productAttributes."
	SkuAttributesPrefix     = "skuAttributes."
	OwningProductPrefix     = "product."
)

// ErrUnknownProperty is returned when a property path cannot be compiled.
var ErrUnknownProperty = errors.New("unknown property")

// DefaultResolverCacheSize bounds the number of compiled resolvers kept.
const DefaultResolverCacheSize = 512

type productGetter func(ctx context.Context, p *domain.Product) any

type skuGetter func(ctx context.Context, s *domain.Sku) any

func stringValue(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// translated returns the translation for the locale in ctx, falling back to base.
func translated(ctx context.Context, tr domain.Translations, property, base string) any {
	if v, ok := tr.Lookup(evalctx.Locale(ctx), property); ok {
		return stringValue(v)
	}
	return stringValue(base)
}

var productProperties = map[string]productGetter{
	"id": func(_ context.Context, p *domain.Product) any { return p.ID },
	"name": func(ctx context.Context, p *domain.Product) any {
		return translated(ctx, p.Translations, "name", p.Name)
	},
	"description": func(ctx context.Context, p *domain.Product) any {
		return translated(ctx, p.Translations, "description", p.Description)
	},
	"longDescription": func(ctx context.Context, p *domain.Product) any {
		return translated(ctx, p.Translations, "longDescription", p.LongDescription)
	},
	"manufacturer":          func(_ context.Context, p *domain.Product) any { return stringValue(p.Manufacturer) },
	"model":                 func(_ context.Context, p *domain.Product) any { return stringValue(p.Model) },
	"url":                   func(_ context.Context, p *domain.Product) any { return stringValue(p.URL) },
	"canSellWithoutOptions": func(_ context.Context, p *domain.Product) any { return p.CanSellWithoutOptions },
	"isBundle":              func(_ context.Context, p *domain.Product) any { return p.IsBundle },
}

func priceValue(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

var skuProperties = map[string]skuGetter{
	"id": func(_ context.Context, s *domain.Sku) any { return s.ID },
	"name": func(ctx context.Context, s *domain.Sku) any {
		return translated(ctx, s.Translations, "name", s.Name)
	},
	"description": func(ctx context.Context, s *domain.Sku) any {
		return translated(ctx, s.Translations, "description", s.Description)
	},
	"retailPrice": func(_ context.Context, s *domain.Sku) any { return priceValue(s.RetailPrice) },
	"salePrice":   func(_ context.Context, s *domain.Sku) any { return priceValue(s.SalePrice) },
	"price": func(_ context.Context, s *domain.Sku) any {
		if s.SalePrice != nil {
			return *s.SalePrice
		}
		return priceValue(s.RetailPrice)
	},
}

func compileProduct(path string) (productGetter, error) {
	if name, ok := strings.CutPrefix(path, ProductAttributesPrefix); ok && name != "" {
		return func(_ context.Context, p *domain.Product) any {
			if a, ok := p.Attributes[name]; ok {
				return a
			}
			return nil
		}, nil
	}
	if g, ok := productProperties[path]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("%w: product.%s", ErrUnknownProperty, path)
}

func compileSku(path string) (skuGetter, error) {
	if name, ok := strings.CutPrefix(path, SkuAttributesPrefix); ok && name != "" {
		return func(_ context.Context, s *domain.Sku) any {
			if a, ok := s.Attributes[name]; ok {
				return a
			}
			return nil
		}, nil
	}
	if rest, ok := strings.CutPrefix(path, OwningProductPrefix); ok {
		pg, err := compileProduct(rest)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, s *domain.Sku) any {
			if s.Product == nil {
				return nil
			}
			return pg(ctx, s.Product)
		}, nil
	}
	if g, ok := skuProperties[path]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("%w: sku.%s", ErrUnknownProperty, path)
}

// CompileResolver turns a property path into a resolver for items of kind.
// Attribute-map paths resolve to the attribute itself; unwrapping its value
// is left to the document builder.
func CompileResolver(kind domain.Kind, path string) (domain.Resolver, error) {
	switch kind {
	case domain.KindProduct:
		g, err := compileProduct(path)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, item domain.IndexableItem) (any, error) {
			p, ok := item.(*domain.Product)
			if !ok {
				return nil, fmt.Errorf("resolve product.%s: item is %T", path, item)
			}
			return g(ctx, p), nil
		}, nil
	case domain.KindSku:
		g, err := compileSku(path)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, item domain.IndexableItem) (any, error) {
			s, ok := item.(*domain.Sku)
			if !ok {
				return nil, fmt.Errorf("resolve sku.%s: item is %T", path, item)
			}
			return g(ctx, s), nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownProperty, kind)
	}
}

// Compiler compiles resolvers and keeps the most recently used ones.
type Compiler struct {
	cache  *lru.Cache[string, domain.Resolver]
	logger *slog.Logger
}

// NewCompiler creates a compiler keeping at most size resolvers.
func NewCompiler(size int, logger *slog.Logger) (*Compiler, error) {
	if size <= 0 {
		size = DefaultResolverCacheSize
	}
	cache, err := lru.New[string, domain.Resolver](size)
	if err != nil {
		return nil, fmt.Errorf("create resolver cache: %w", err)
	}
	return &Compiler{cache: cache, logger: logger}, nil
}

// Compile returns the resolver for kind and path, compiling it on a cache miss.
func (c *Compiler) Compile(kind domain.Kind, path string) (domain.Resolver, error) {
	key := string(kind) + "." + path
	if r, ok := c.cache.Get(key); ok {
		return r, nil
	}
	r, err := CompileResolver(kind, path)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, r)
	return r, nil
}

// Bind attaches a resolver to every field. A field whose path cannot be
// compiled gets a resolver that always fails, so documents skip it.
func (c *Compiler) Bind(fields []*domain.Field) {
	for _, f := range fields {
		r, err := c.Compile(f.Kind, f.PropertyPath)
		if err != nil {
			c.logger.Warn("search field has an unresolvable property",
				slog.String("field", f.QualifiedName()),
				slog.String("error", err.Error()),
			)
			r = failingResolver(err)
		}
		f.Resolver = r
	}
}

func failingResolver(err error) domain.Resolver {
	return func(context.Context, domain.IndexableItem) (any, error) {
		return nil, err
	}
}

// Len returns the number of cached resolvers.
func (c *Compiler) Len() int {
	return c.cache.Len()
}
