package normalization

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/finsheet/statement-mapper/internal/domain/evidence"
)

// twoDigitYearPivot: two-digit years below 50 resolve to 20xx, the rest to
// 19xx.
const twoDigitYearPivot = 50

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

var (
	fyRe        = regexp.MustCompile(`(?i)\bFY\s?(\d{2,4})\b`)
	quarterRe   = regexp.MustCompile(`(?i)\bQ([1-4])[\s-]?((?:19|20)?\d{2})\b`)
	qtrEndedRe  = regexp.MustCompile(`(?i)\bthree\s+months\s+ended\s+([a-z]+)\.?\s+\d{1,2},?\s+((?:19|20)\d{2})`)
	monthDayRe  = regexp.MustCompile(`(?i)\b([a-z]{3,9})\.?\s+(\d{1,2}),?\s+((?:19|20)\d{2})\b`)
	monthYearRe = regexp.MustCompile(`(?i)\b([a-z]{3,9})\.?\s+((?:19|20)\d{2})\b`)
	isoMonthRe  = regexp.MustCompile(`\b((?:19|20)\d{2})-(\d{2})\b`)
	bareYearRe  = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
)

// ParsePeriod resolves a raw column-header text into a normalized period.
// Supported shapes, in precedence order: quarterly ("Q3 2024",
// "three months ended September 30, 2024"), fiscal-year ("FY2023", "FY23"),
// explicit month-day-year ("December 31, 2023" — annual end date),
// month-year ("Jan 2024" — monthly), ISO month ("2024-01"), bare year
// ("2023" — annual). Anything else returns an unresolved period that keeps
// the raw text; unresolved periods never halt the pipeline.
func ParsePeriod(raw string) evidence.PeriodInfo {
	p := evidence.PeriodInfo{Raw: raw}
	text := strings.TrimSpace(raw)
	if text == "" {
		return p
	}

	if m := quarterRe.FindStringSubmatch(text); m != nil {
		q, _ := strconv.Atoi(m[1])
		year := pivotYear(m[2])
		endMonth := time.Month(q * 3)
		p.Key = fmt.Sprintf("Q%d-%d", q, year)
		p.EndDate = endOfMonth(year, endMonth)
		p.Months = 3
		p.Resolved = true
		return p
	}

	if m := qtrEndedRe.FindStringSubmatch(text); m != nil {
		if month, ok := monthNames[lower3(m[1])]; ok {
			year, _ := strconv.Atoi(m[2])
			q := (int(month) + 2) / 3
			p.Key = fmt.Sprintf("Q%d-%d", q, year)
			p.EndDate = endOfMonth(year, month)
			p.Months = 3
			p.Resolved = true
			return p
		}
	}

	if m := fyRe.FindStringSubmatch(text); m != nil {
		year := pivotYear(m[1])
		p.Key = fmt.Sprintf("FY%d", year)
		p.EndDate = endOfMonth(year, time.December)
		p.Months = 12
		p.Resolved = true
		return p
	}

	if m := monthDayRe.FindStringSubmatch(text); m != nil {
		if month, ok := monthNames[lower3(m[1])]; ok {
			year, _ := strconv.Atoi(m[3])
			// "December 31, 2023" style headers mark an annual period end.
			p.Key = fmt.Sprintf("FY%d", year)
			p.EndDate = endOfMonth(year, month)
			p.Months = 12
			p.Resolved = true
			return p
		}
	}

	if m := monthYearRe.FindStringSubmatch(text); m != nil {
		if month, ok := monthNames[lower3(m[1])]; ok {
			year, _ := strconv.Atoi(m[2])
			p.Key = fmt.Sprintf("%d-%02d", year, int(month))
			p.EndDate = endOfMonth(year, month)
			p.Months = 1
			p.Resolved = true
			return p
		}
	}

	if m := isoMonthRe.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		if mo >= 1 && mo <= 12 {
			p.Key = fmt.Sprintf("%d-%02d", year, mo)
			p.EndDate = endOfMonth(year, time.Month(mo))
			p.Months = 1
			p.Resolved = true
			return p
		}
	}

	if m := bareYearRe.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		p.Key = fmt.Sprintf("FY%d", year)
		p.EndDate = endOfMonth(year, time.December)
		p.Months = 12
		p.Resolved = true
		return p
	}

	return p
}

func lower3(s string) string {
	s = strings.ToLower(s)
	if len(s) > 3 {
		return s[:3]
	}
	return s
}

func pivotYear(s string) int {
	y, _ := strconv.Atoi(s)
	if y >= 100 {
		return y
	}
	if y < twoDigitYearPivot {
		return 2000 + y
	}
	return 1900 + y
}

func endOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
}
