package extraction

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// moneyTokenRe matches amount-shaped tokens: optional currency symbol,
// optional parentheses or leading minus for negatives, digits with optional
// thousands separators and decimals, optional trailing minus.
var moneyTokenRe = regexp.MustCompile(`^\(?\$?\s*-?\d{1,3}(?:,\d{3})*(?:\.\d+)?\)?-?$|^\(?\$?\s*-?\d+(?:\.\d+)?\)?-?$`)

var digitRunRe = regexp.MustCompile(`\d{3,}`)

// IsMoneyToken reports whether a single token looks like a monetary amount.
// Bare dashes are treated as money placeholders (zero) in statement tables.
func IsMoneyToken(s string) bool {
	s = strings.TrimSpace(s)
	if s == "-" || s == "–" || s == "—" {
		return true
	}
	return moneyTokenRe.MatchString(s)
}

// LooksNumeric distinguishes value text from label text: a digit run of
// three or more, or decimal/thousands separators adjacent to digits.
func LooksNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if digitRunRe.MatchString(s) {
		return true
	}
	return regexp.MustCompile(`\d[.,]\d`).MatchString(s)
}

// ParseAmount parses an amount token into an exact decimal. Parenthesized
// and trailing-minus forms are negative; dashes parse as zero. The second
// return is false when the token is not an amount.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	if s == "-" || s == "–" || s == "—" {
		return decimal.Zero, true
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(s, "-") {
		neg = true
		s = s[:len(s)-1]
	}
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if neg {
		d = d.Neg()
	}
	return d, true
}

var totalKeywords = []string{"total", "net ", "gross "}

// IsTotalLabel reports whether a row label carries total/net/gross keywords.
func IsTotalLabel(label string) bool {
	l := " " + strings.ToLower(strings.TrimSpace(label)) + " "
	for _, kw := range totalKeywords {
		if strings.Contains(l, " "+strings.TrimSpace(kw)+" ") || strings.HasPrefix(strings.TrimSpace(strings.ToLower(label)), strings.TrimSpace(kw)) {
			return true
		}
	}
	return false
}
