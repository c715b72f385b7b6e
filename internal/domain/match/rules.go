// Package match implements canonical-label resolution shared by the
// normalization and mapping layers. Matching behavior is data, not code:
// the category table (aliases, keywords, exclusions, sign and identity role)
// ships as embedded YAML and can be replaced wholesale with an external file.
package match

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Sign is the posting-sign convention a category carries.
type Sign string

const (
	SignPositive Sign = "positive"
	SignNegative Sign = "negative" // expense magnitudes become negative contributions
)

// Category is one canonical line item and the patterns that resolve to it.
// Order inside the rules file is significant only for deterministic
// tie-breaking; precedence between tiers is fixed (alias > substring >
// keyword).
type Category struct {
	Name       string   `yaml:"name"`
	Statement  string   `yaml:"statement"` // income_statement | balance_sheet | cash_flow
	Role       string   `yaml:"role"`      // identity role used by reconciliation, optional
	Sign       Sign     `yaml:"sign"`
	Aliases    []string `yaml:"aliases"`
	Keywords   []string `yaml:"keywords"`
	Exclusions []string `yaml:"exclusions"`
}

// Rules is the full ordered category table.
type Rules struct {
	Categories []Category `yaml:"categories"`
}

// DefaultRules parses the embedded category table.
func DefaultRules() (*Rules, error) {
	return parseRules(defaultRulesYAML)
}

// LoadRules reads a category table from an external YAML file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read matching rules: %w", err)
	}
	return parseRules(data)
}

func parseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse matching rules: %w", err)
	}
	if len(r.Categories) == 0 {
		return nil, fmt.Errorf("matching rules contain no categories")
	}
	for i := range r.Categories {
		if r.Categories[i].Sign == "" {
			r.Categories[i].Sign = SignPositive
		}
	}
	return &r, nil
}
