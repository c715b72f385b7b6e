package match

import (
	"strings"
	"unicode"
)

// Method identifies which precedence tier produced a match.
type Method string

const (
	MethodExactAlias Method = "exact_alias"
	MethodSubstring  Method = "substring"
	MethodKeyword    Method = "keyword"
)

// Result is one resolved label match.
type Result struct {
	Category *Category
	Method   Method
	Pattern  string  // the alias or keyword that matched
	Score    float64 // 1.0 exact, 0.85 substring, 0.70 keyword
}

// Matcher resolves raw labels to canonical categories with strict tier
// precedence: exact alias, then substring in either direction, then longest
// matched keyword with exclusion disqualification. Matching is deterministic;
// ties inside a tier break on rules-file order.
type Matcher struct {
	rules      *Rules
	aliasIndex map[string]int // normalized alias -> category index
}

// NewMatcher builds the alias index for a rules table.
func NewMatcher(rules *Rules) *Matcher {
	m := &Matcher{rules: rules, aliasIndex: make(map[string]int)}
	for i, cat := range rules.Categories {
		for _, alias := range cat.Aliases {
			key := Normalize(alias)
			if _, taken := m.aliasIndex[key]; !taken {
				m.aliasIndex[key] = i
			}
		}
	}
	return m
}

// Normalize lower-cases, strips punctuation and collapses whitespace so that
// "Net Sales," and "net  sales" compare equal.
func Normalize(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Match resolves a raw label. Returns nil when no tier produces a match;
// callers record the label as unmatched rather than failing.
func (m *Matcher) Match(label string) *Result {
	norm := Normalize(label)
	if norm == "" {
		return nil
	}

	// Tier 1: exact alias.
	if idx, ok := m.aliasIndex[norm]; ok {
		return &Result{
			Category: &m.rules.Categories[idx],
			Method:   MethodExactAlias,
			Pattern:  norm,
			Score:    1.0,
		}
	}

	// Tier 2: substring in either direction. Longest alias wins so that
	// "total operating expenses" beats "operating expenses" on the same label.
	// Exclusions disqualify a category here just as in the keyword tier.
	var subIdx, subLen = -1, 0
	for i, cat := range m.rules.Categories {
		if excluded(&cat, norm) {
			continue
		}
		for _, alias := range cat.Aliases {
			a := Normalize(alias)
			if a == "" {
				continue
			}
			if strings.Contains(norm, a) || strings.Contains(a, norm) {
				if len(a) > subLen {
					subIdx, subLen = i, len(a)
				}
			}
		}
	}
	if subIdx >= 0 {
		return &Result{
			Category: &m.rules.Categories[subIdx],
			Method:   MethodSubstring,
			Pattern:  longestAlias(&m.rules.Categories[subIdx], norm),
			Score:    0.85,
		}
	}

	// Tier 3: keyword, longest matched keyword wins; exclusions disqualify
	// the whole category first.
	var kwIdx, kwLen = -1, 0
	var kwPattern string
	for i, cat := range m.rules.Categories {
		if excluded(&cat, norm) {
			continue
		}
		for _, kw := range cat.Keywords {
			k := Normalize(kw)
			if k == "" || !strings.Contains(norm, k) {
				continue
			}
			if len(k) > kwLen {
				kwIdx, kwLen, kwPattern = i, len(k), k
			}
		}
	}
	if kwIdx >= 0 {
		return &Result{
			Category: &m.rules.Categories[kwIdx],
			Method:   MethodKeyword,
			Pattern:  kwPattern,
			Score:    0.70,
		}
	}

	return nil
}

// RoleOf returns the reconciliation identity role for a canonical name, or "".
func (m *Matcher) RoleOf(canonical string) string {
	for i := range m.rules.Categories {
		if m.rules.Categories[i].Name == canonical {
			return m.rules.Categories[i].Role
		}
	}
	return ""
}

// SignOf returns the sign convention for a canonical name.
func (m *Matcher) SignOf(canonical string) Sign {
	for i := range m.rules.Categories {
		if m.rules.Categories[i].Name == canonical {
			return m.rules.Categories[i].Sign
		}
	}
	return SignPositive
}

func excluded(cat *Category, norm string) bool {
	for _, ex := range cat.Exclusions {
		if e := Normalize(ex); e != "" && strings.Contains(norm, e) {
			return true
		}
	}
	return false
}

func longestAlias(cat *Category, norm string) string {
	best := ""
	for _, alias := range cat.Aliases {
		a := Normalize(alias)
		if (strings.Contains(norm, a) || strings.Contains(a, norm)) && len(a) > len(best) {
			best = a
		}
	}
	return best
}
