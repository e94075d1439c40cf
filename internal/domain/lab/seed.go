package lab

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Catalog is the seed file format for test categories and test types.
type Catalog struct {
	Categories []CatalogCategory `yaml:"categories"`
}

type CatalogCategory struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Tests       []CatalogTest `yaml:"tests"`
}

type CatalogTest struct {
	Name string   `yaml:"name"`
	Unit string   `yaml:"unit,omitempty"`
	Min  *float64 `yaml:"min,omitempty"`
	Max  *float64 `yaml:"max,omitempty"`
}

// SeedResult counts the rows a seed run created.
type SeedResult struct {
	Categories int `json:"categories"`
	TestTypes  int `json:"test_types"`
}

// DefaultCatalog returns the built-in laboratory catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(strings.NewReader(string(defaultCatalog)))
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, invalid("decode catalog: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) Validate() error {
	if len(c.Categories) == 0 {
		return invalid("catalog has no categories")
	}
	for i, cat := range c.Categories {
		if strings.TrimSpace(cat.Name) == "" {
			return invalid("category %d: name is required", i)
		}
		seen := make(map[string]bool, len(cat.Tests))
		for j, t := range cat.Tests {
			if strings.TrimSpace(t.Name) == "" {
				return invalid("category %q test %d: name is required", cat.Name, j)
			}
			if seen[t.Name] {
				return invalid("category %q: duplicate test %q", cat.Name, t.Name)
			}
			seen[t.Name] = true
			if t.Min != nil && t.Max != nil && *t.Min > *t.Max {
				return invalid("test %q: min %v exceeds max %v", t.Name, *t.Min, *t.Max)
			}
		}
	}
	return nil
}

// SeedCatalog loads c in a single transaction. Rows already present by name
// keep their existing unit and range.
func (s *Service) SeedCatalog(ctx context.Context, c *Catalog) (*SeedResult, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var res SeedResult
	err := s.runTx(ctx, func(ctx context.Context) error {
		res = SeedResult{}
		for _, cat := range c.Categories {
			desc := cat.Description
			if desc == "" {
				desc = cat.Name + " tests"
			}
			tc := &TestCategory{Name: cat.Name, Description: &desc}
			created, err := s.catalog.UpsertCategory(ctx, tc)
			if err != nil {
				return fmt.Errorf("seed category %q: %w", cat.Name, err)
			}
			if created {
				res.Categories++
			}
			for _, t := range cat.Tests {
				tt := &TestType{
					CategoryID:     tc.ID,
					CategoryName:   tc.Name,
					Name:           t.Name,
					NormalRangeMin: t.Min,
					NormalRangeMax: t.Max,
				}
				if t.Unit != "" {
					unit := t.Unit
					tt.Unit = &unit
				}
				created, err := s.catalog.UpsertTestType(ctx, tt)
				if err != nil {
					return fmt.Errorf("seed test type %q: %w", t.Name, err)
				}
				if created {
					res.TestTypes++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("categories", res.Categories).Int("test_types", res.TestTypes).Msg("catalog seeded")
	return &res, nil
}
