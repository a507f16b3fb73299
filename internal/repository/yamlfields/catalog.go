// Package yamlfields loads the search field catalog from a YAML file, for
// deployments that keep field definitions next to the indexer instead of
// in the catalog database.
package yamlfields

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/repository"
	"github.com/utafrali/catalogindex/pkg/validator"
)

type file struct {
	Fields []entry `yaml:"fields" validate:"required,dive"`
}

type entry struct {
	Kind            string   `yaml:"kind" validate:"required,oneof=product sku"`
	Name            string   `yaml:"name" validate:"required"`
	Abbreviation    string   `yaml:"abbreviation" validate:"required"`
	Property        string   `yaml:"property" validate:"required"`
	Searchable      bool     `yaml:"searchable"`
	SearchableTypes []string `yaml:"searchable_types"`
	FacetType       string   `yaml:"facet_type"`
	Translatable    bool     `yaml:"translatable"`
}

// Catalog is an immutable field catalog read from YAML.
type Catalog struct {
	product []*domain.Field
	sku     []*domain.Field
}

// Load reads the catalog at path.
func Load(path string, compiler *repository.Compiler) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field catalog: %w", err)
	}
	c, err := Parse(bytes.NewReader(raw), compiler)
	if err != nil {
		return nil, fmt.Errorf("field catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a catalog and binds the field resolvers through compiler.
// Unknown keys are rejected.
func Parse(r io.Reader, compiler *repository.Compiler) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty field catalog")
		}
		return nil, fmt.Errorf("decode field catalog: %w", err)
	}
	if err := validator.Validate(f); err != nil {
		return nil, err
	}

	c := &Catalog{}
	for i, e := range f.Fields {
		field, err := e.toField(int64(i + 1))
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", e.Name, err)
		}
		if field.Kind == domain.KindSku {
			c.sku = append(c.sku, field)
		} else {
			c.product = append(c.product, field)
		}
	}
	compiler.Bind(c.product)
	compiler.Bind(c.sku)
	return c, nil
}

func (e entry) toField(id int64) (*domain.Field, error) {
	f := &domain.Field{
		ID:           id,
		Kind:         domain.Kind(e.Kind),
		Name:         e.Name,
		Abbreviation: e.Abbreviation,
		PropertyPath: e.Property,
		Searchable:   e.Searchable,
		Translatable: e.Translatable,
	}
	if e.Searchable && len(e.SearchableTypes) == 0 {
		return nil, errors.New("searchable field needs at least one searchable type")
	}
	for _, s := range e.SearchableTypes {
		t, err := domain.ParseFieldType(s)
		if err != nil {
			return nil, err
		}
		f.SearchableTypes = append(f.SearchableTypes, t)
	}
	if e.FacetType != "" {
		t, err := domain.ParseFieldType(e.FacetType)
		if err != nil {
			return nil, err
		}
		f.FacetType = &t
	}
	return f, nil
}

// ReadAllProductFields implements repository.FieldCatalog.
func (c *Catalog) ReadAllProductFields(context.Context) ([]*domain.Field, error) {
	return slices.Clone(c.product), nil
}

// ReadAllSkuFields implements repository.FieldCatalog.
func (c *Catalog) ReadAllSkuFields(context.Context) ([]*domain.Field, error) {
	return slices.Clone(c.sku), nil
}
