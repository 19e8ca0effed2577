// Package taxonomy describes the closed set of pair categories and the rules the
// generator must follow for each of them.
package taxonomy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"thisorthat/api/internal/sources"
)

//go:embed taxonomy.json
var defaultTaxonomy []byte

type Example struct {
	Option1 string `json:"option_1"`
	Option2 string `json:"option_2"`
}

type Category struct {
	Name             string       `json:"-"`
	Source           sources.Kind `json:"source"`
	ValueLength      WordRange    `json:"valueLength"`
	PromptSupplement string       `json:"promptSupplement"`
	Examples         []Example    `json:"examples"`
	BannedExamples   []string     `json:"bannedExamples"`
}

// WordRange bounds the number of words in each option value.
type WordRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Allows reports whether value's word count is inside the range.
func (r WordRange) Allows(value string) bool {
	n := len(strings.Fields(value))
	return n >= r.Min && n <= r.Max
}

type Taxonomy struct {
	categories map[string]Category
	names      []string
}

// Default returns the embedded taxonomy.
func Default() (*Taxonomy, error) {
	return Parse(defaultTaxonomy)
}

// Load reads the taxonomy at path, or the embedded default when path is empty.
func Load(path string) (*Taxonomy, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Taxonomy, error) {
	var entries map[string]Category
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("taxonomy has no categories")
	}

	t := &Taxonomy{categories: make(map[string]Category, len(entries))}
	for name, category := range entries {
		name = strings.ToLower(strings.TrimSpace(name))
		kind, ok := sources.ParseKind(string(category.Source))
		if !ok {
			return nil, fmt.Errorf("category %q: unknown source %q", name, category.Source)
		}
		if category.ValueLength.Min < 1 || category.ValueLength.Max < category.ValueLength.Min {
			return nil, fmt.Errorf("category %q: invalid valueLength %d..%d", name, category.ValueLength.Min, category.ValueLength.Max)
		}
		category.Name = name
		category.Source = kind
		t.categories[name] = category
		t.names = append(t.names, name)
	}
	sort.Strings(t.names)
	return t, nil
}

func (t *Taxonomy) Category(name string) (Category, bool) {
	c, ok := t.categories[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Names returns the category names sorted alphabetically.
func (t *Taxonomy) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

func (t *Taxonomy) Categories() []Category {
	out := make([]Category, 0, len(t.names))
	for _, name := range t.names {
		out = append(out, t.categories[name])
	}
	return out
}

// Sources returns the distinct provider kinds used by the taxonomy, sorted.
func (t *Taxonomy) Sources() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range t.categories {
		if _, ok := seen[string(c.Source)]; ok {
			continue
		}
		seen[string(c.Source)] = struct{}{}
		out = append(out, string(c.Source))
	}
	sort.Strings(out)
	return out
}
