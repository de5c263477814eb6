package patterns

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/veilware/textveil/internal/entity"
)

// CenturyPivot resolves two-digit years: values below the pivot map to the
// 2000s, values at or above it to the 1900s ("24" -> 2024, "87" -> 1987).
const CenturyPivot = 50

// dateRule pairs a surface pattern with an interpretation function that
// returns every real calendar date the match can denote. A match with no
// valid interpretation is not a date; one with several is ambiguous.
type dateRule struct {
	re        *regexp.Regexp
	interpret func(groups []string) []time.Time
}

var (
	germanMonths = map[string]time.Month{
		"januar": time.January, "februar": time.February, "märz": time.March,
		"april": time.April, "mai": time.May, "juni": time.June,
		"juli": time.July, "august": time.August, "september": time.September,
		"oktober": time.October, "november": time.November, "dezember": time.December,
	}
	englishMonths = map[string]time.Month{
		"january": time.January, "february": time.February, "march": time.March,
		"april": time.April, "may": time.May, "june": time.June,
		"july": time.July, "august": time.August, "september": time.September,
		"october": time.October, "november": time.November, "december": time.December,
	}

	isoRule = dateRule{
		re: regexp.MustCompile(`\b([0-9]{4})-([01]?[0-9])-([0-3]?[0-9])\b`),
		interpret: func(g []string) []time.Time {
			return makeDates(g[3], g[2], g[1])
		},
	}

	germanDateRules = []dateRule{
		{
			// DD.MM.YYYY and DD.MM.YY
			re: regexp.MustCompile(`\b([0-3]?[0-9])\.([01]?[0-9])\.([0-9]{4}|[0-9]{2})\b`),
			interpret: func(g []string) []time.Time {
				return makeDates(g[1], g[2], g[3])
			},
		},
		{
			// "15. März 2023"
			re: regexp.MustCompile(`(?i)\b([0-3]?[0-9])\.?\s+(Januar|Februar|März|April|Mai|Juni|Juli|August|September|Oktober|November|Dezember)\s+([0-9]{4}|[0-9]{2})\b`),
			interpret: func(g []string) []time.Time {
				return makeMonthDates(g[1], germanMonths[strings.ToLower(g[2])], g[3])
			},
		},
		isoRule,
	}

	englishDateRules = []dateRule{
		{
			// MM/DD/YYYY, with DD/MM/YYYY as a competing reading. When both
			// readings are real dates and differ, the surface form is
			// ambiguous and the normalizer keeps the raw text as key.
			re: regexp.MustCompile(`\b([0-3]?[0-9])/([0-3]?[0-9])/([0-9]{4}|[0-9]{2})\b`),
			interpret: func(g []string) []time.Time {
				dates := makeDates(g[2], g[1], g[3])
				if g[1] != g[2] {
					dates = append(dates, makeDates(g[1], g[2], g[3])...)
				}
				return dates
			},
		},
		{
			// "March 15, 2023"
			re: regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+([0-3]?[0-9])(?:st|nd|rd|th)?,?\s+([0-9]{4})\b`),
			interpret: func(g []string) []time.Time {
				return makeMonthDates(g[2], englishMonths[strings.ToLower(g[1])], g[3])
			},
		},
		isoRule,
	}
)

func dateRulesFor(language string) []dateRule {
	if language == "de" {
		return germanDateRules
	}
	return englishDateRules
}

// detectDates finds expressions that resolve to at least one real calendar
// date under the active language's formats.
func detectDates(text, language string) []entity.Span {
	var spans []entity.Span
	for _, rule := range dateRulesFor(language) {
		for _, loc := range rule.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			groups := submatchStrings(text, loc)
			if len(rule.interpret(groups)) == 0 {
				continue
			}
			spans = append(spans, entity.Span{
				Start:      start,
				End:        end,
				Type:       entity.Date,
				Text:       text[start:end],
				Confidence: 1.0,
				Source:     "date",
			})
		}
	}
	return dropSelfOverlaps(spans)
}

// ParseDate resolves a date surface form to a calendar date. ok is false
// when no format of the language yields a real date; ambiguous is true when
// distinct readings exist, in which case the returned date is meaningless
// and callers must fall back to the surface text.
func ParseDate(text, language string) (date time.Time, ok, ambiguous bool) {
	trimmed := strings.TrimSpace(text)
	seen := make(map[string]time.Time)
	for _, rule := range dateRulesFor(language) {
		m := rule.re.FindStringSubmatch(trimmed)
		if m == nil || m[0] != trimmed {
			continue
		}
		for _, d := range rule.interpret(m) {
			seen[d.Format("2006-01-02")] = d
		}
	}
	switch len(seen) {
	case 0:
		return time.Time{}, false, false
	case 1:
		for _, d := range seen {
			return d, true, false
		}
	}
	return time.Time{}, true, true
}

func submatchStrings(text string, loc []int) []string {
	groups := make([]string, len(loc)/2)
	for i := range groups {
		if loc[2*i] >= 0 {
			groups[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return groups
}

func makeDates(dayStr, monthStr, yearStr string) []time.Time {
	month, _ := strconv.Atoi(monthStr)
	return makeMonthDates(dayStr, time.Month(month), yearStr)
}

// makeMonthDates builds a validated date from surface components, returning
// nil when they do not denote a real calendar date.
func makeMonthDates(dayStr string, month time.Month, yearStr string) []time.Time {
	day, _ := strconv.Atoi(dayStr)
	year, _ := strconv.Atoi(yearStr)
	if len(yearStr) == 2 {
		if year < CenturyPivot {
			year += 2000
		} else {
			year += 1900
		}
	}
	if month < time.January || month > time.December || day < 1 {
		return nil
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes out-of-range components; a real date round-trips.
	if d.Year() != year || d.Month() != month || d.Day() != day {
		return nil
	}
	return []time.Time{d}
}
