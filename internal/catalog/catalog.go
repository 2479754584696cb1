// Package catalog holds the static product catalog: the mapping from
// product categories to their variants and prices. The catalog is
// loaded once at startup and never mutated afterwards, so all lookups
// are safe for concurrent use without locking.
//
// Prices are stored in minor currency units (paise). The default table
// can be replaced wholesale via the ORDERBOT_PRICES environment
// variable (a JSON document parsed by FromJSON), so price changes do
// not require a rebuild.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Category identifies a product line.
type Category string

const (
	CategoryCV   Category = "CV"
	CategoryArt  Category = "ART"
	CategoryLogo Category = "LOGO"
)

// Sentinel errors for failed lookups.
var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrUnknownVariant  = errors.New("unknown variant")
)

// Variant is one orderable product within a category.
type Variant struct {
	// Name is the user-facing variant label and the lookup key within
	// its category (e.g. "Fantasy").
	Name string `json:"name"`
	// Price in minor currency units.
	Price int64 `json:"price"`
	// SampleAllowed reports whether a watermarked sample image may be
	// shown for this variant on the selection menu.
	SampleAllowed bool `json:"sampleAllowed"`
}

// Catalog is the immutable category -> variant -> price table.
type Catalog struct {
	order    []Category
	variants map[Category][]Variant
}

// Default returns the built-in catalog. Variant order within a
// category is the menu display order.
func Default() *Catalog {
	return build(map[Category][]Variant{
		CategoryCV: {
			{Name: "Professional", Price: 2500, SampleAllowed: true},
			{Name: "Executive", Price: 4500, SampleAllowed: true},
		},
		CategoryArt: {
			{Name: "Artistic", Price: 3000, SampleAllowed: true},
			{Name: "Fantasy", Price: 4500, SampleAllowed: true},
			{Name: "Ultra-Realistic", Price: 12000, SampleAllowed: true},
		},
		CategoryLogo: {
			{Name: "Logo", Price: 1000, SampleAllowed: true},
		},
	})
}

// FromJSON builds a catalog from a JSON price table of the form
//
//	{"CV": [{"name": "Professional", "price": 2500, "sampleAllowed": true}], ...}
//
// Every category must carry at least one variant with a positive price.
func FromJSON(data []byte) (*Catalog, error) {
	var raw map[Category][]Variant
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse price table: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("price table is empty")
	}
	for cat, vs := range raw {
		if len(vs) == 0 {
			return nil, fmt.Errorf("category %s has no variants", cat)
		}
		for _, v := range vs {
			if v.Name == "" {
				return nil, fmt.Errorf("category %s: variant without a name", cat)
			}
			if v.Price <= 0 {
				return nil, fmt.Errorf("category %s variant %s: price must be positive, got %d", cat, v.Name, v.Price)
			}
		}
	}
	return build(raw), nil
}

// build copies the table into an immutable Catalog with a stable
// category order (CV, ART, LOGO first, then any custom categories
// sorted by name).
func build(table map[Category][]Variant) *Catalog {
	c := &Catalog{variants: make(map[Category][]Variant, len(table))}
	for cat, vs := range table {
		c.variants[cat] = append([]Variant(nil), vs...)
	}
	for _, cat := range []Category{CategoryCV, CategoryArt, CategoryLogo} {
		if _, ok := c.variants[cat]; ok {
			c.order = append(c.order, cat)
		}
	}
	var extra []Category
	for cat := range c.variants {
		known := false
		for _, o := range c.order {
			if o == cat {
				known = true
				break
			}
		}
		if !known {
			extra = append(extra, cat)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	c.order = append(c.order, extra...)
	return c
}

// Categories returns the categories in menu display order.
func (c *Catalog) Categories() []Category {
	return append([]Category(nil), c.order...)
}

// VariantsOf returns the ordered variants of a category for menu
// construction. The returned slice is a copy.
func (c *Catalog) VariantsOf(cat Category) ([]Variant, error) {
	vs, ok := c.variants[cat]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, cat)
	}
	return append([]Variant(nil), vs...), nil
}

// PriceOf returns the price of a variant in minor currency units.
func (c *Catalog) PriceOf(cat Category, variant string) (int64, error) {
	vs, ok := c.variants[cat]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCategory, cat)
	}
	for _, v := range vs {
		if v.Name == variant {
			return v.Price, nil
		}
	}
	return 0, fmt.Errorf("%w: %s/%s", ErrUnknownVariant, cat, variant)
}

// Variant returns the full variant entry for a category/name pair.
func (c *Catalog) Variant(cat Category, variant string) (Variant, error) {
	vs, ok := c.variants[cat]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %s", ErrUnknownCategory, cat)
	}
	for _, v := range vs {
		if v.Name == variant {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("%w: %s/%s", ErrUnknownVariant, cat, variant)
}
