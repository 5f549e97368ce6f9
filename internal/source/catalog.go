// Package source holds the concrete lookup adapters and fallback strategies
// and the YAML catalog that declares which of them a run uses.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Adapter kinds.
const (
	KindWeb  = "web"
	KindJina = "jina"
)

// Strategy names.
const (
	StrategyStoredRecord = "stored_record"
	StrategyNameVariant  = "name_variant"
	StrategyJinaSearch   = "jina_search"
	StrategyLLMExtract   = "llm_extract"
)

// QueryPlaceholder is replaced by the escaped "name address" query in
// adapter URL templates.
const QueryPlaceholder = "{query}"

// Catalog declares the adapters queried for every entity, in order, and the
// fallback strategies with their priorities.
type Catalog struct {
	Adapters   []AdapterSpec  `yaml:"adapters"`
	Strategies []StrategySpec `yaml:"strategies"`
}

// AdapterSpec declares one lookup adapter.
type AdapterSpec struct {
	Name       string  `yaml:"name"`
	Kind       string  `yaml:"kind"`
	URL        string  `yaml:"url,omitempty"` // web only, must contain {query}
	Confidence float64 `yaml:"confidence"`
	Enabled    *bool   `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the adapter is on. Adapters default to enabled.
func (a AdapterSpec) IsEnabled() bool { return a.Enabled == nil || *a.Enabled }

// StrategySpec declares one fallback strategy.
type StrategySpec struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
	Enabled  *bool  `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the strategy is on. Strategies default to enabled.
func (s StrategySpec) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// DefaultCatalog returns the built-in catalog used when no file exists.
func DefaultCatalog() Catalog {
	return Catalog{
		Adapters: []AdapterSpec{
			{Name: "naver", Kind: KindWeb, URL: "https://search.naver.com/search.naver?query={query}", Confidence: 0.8},
			{Name: "daum", Kind: KindWeb, URL: "https://search.daum.net/search?q={query}", Confidence: 0.7},
			{Name: "jina", Kind: KindJina, Confidence: 0.7},
		},
		Strategies: []StrategySpec{
			{Name: StrategyStoredRecord, Priority: 1},
			{Name: StrategyNameVariant, Priority: 2},
			{Name: StrategyJinaSearch, Priority: 3},
			{Name: StrategyLLMExtract, Priority: 4},
		},
	}
}

// LoadCatalog reads a catalog from a YAML file. A missing file yields the
// default catalog.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultCatalog(), nil
	}
	if err != nil {
		return Catalog{}, eris.Wrapf(err, "source: read catalog %s", path)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, eris.Wrap(err, "source: parse catalog")
	}
	if err := cat.Validate(); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

// Validate checks names, kinds, URL templates and confidences.
func (c Catalog) Validate() error {
	var errs []string
	seen := make(map[string]bool)
	for i, a := range c.Adapters {
		switch {
		case a.Name == "":
			errs = append(errs, fmt.Sprintf("adapters[%d]: name is required", i))
		case seen[a.Name]:
			errs = append(errs, fmt.Sprintf("adapters[%d]: duplicate name %q", i, a.Name))
		}
		seen[a.Name] = true

		switch a.Kind {
		case KindWeb:
			if !strings.Contains(a.URL, QueryPlaceholder) {
				errs = append(errs, fmt.Sprintf("adapters[%d]: url must contain %s", i, QueryPlaceholder))
			}
		case KindJina:
		default:
			errs = append(errs, fmt.Sprintf("adapters[%d]: unknown kind %q", i, a.Kind))
		}
		if a.Confidence <= 0 || a.Confidence > 1 {
			errs = append(errs, fmt.Sprintf("adapters[%d]: confidence must be in (0, 1]", i))
		}
	}

	known := map[string]bool{
		StrategyStoredRecord: true,
		StrategyNameVariant:  true,
		StrategyJinaSearch:   true,
		StrategyLLMExtract:   true,
	}
	for i, s := range c.Strategies {
		if !known[s.Name] {
			errs = append(errs, fmt.Sprintf("strategies[%d]: unknown strategy %q", i, s.Name))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("source: invalid catalog: %s", strings.Join(errs, "; "))
	}
	return nil
}
