package patterns

import (
	"regexp"
	"strings"

	"github.com/veilware/textveil/internal/entity"
)

// Default per-language rule sets for the ID and license detectors. A rule
// with a capture group emits only the captured value (the label prefix that
// anchored the match stays in the text); a rule without groups emits the
// whole match. Both detectors emit confidence 1.0 on full-pattern match
// only, never on partial matches.

func defaultIDRules() map[string][]*regexp.Regexp {
	return map[string][]*regexp.Regexp{
		"de": {
			// Personalausweisnummer: nine digits plus check digit.
			regexp.MustCompile(`\b[0-9]{10}\b`),
			// Reisepassnummer: serial letter plus eight digits.
			regexp.MustCompile(`\b[CFGHJKLMNPRTVWXYZ][0-9]{8}\b`),
			// Labeled generic identifier ("ID: ...", "Nr. ...").
			regexp.MustCompile(`(?i)\b(?:ID|Nr\.?|Nummer|Kundennummer)\s*:?\s*([A-Z0-9][A-Z0-9-]{5,19})\b`),
		},
		"en": {
			// US Social Security Number.
			regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`),
			// Labeled generic identifier.
			regexp.MustCompile(`(?i)\b(?:ID|No\.?|Number|Ref)\s*:?\s*([A-Z0-9][A-Z0-9-]{5,19})\b`),
		},
	}
}

func defaultLicenseRules() map[string][]*regexp.Regexp {
	return map[string][]*regexp.Regexp{
		"de": {
			// Führerscheinnummer: eleven alphanumerics mixing letters and
			// digits. Pure digit runs are left to the ID detector.
			regexp.MustCompile(`\b(?:[A-Z][0-9A-Z]{10}|[0-9][0-9A-Z]{9}[A-Z])\b`),
		},
		"en": {
			// US driver license: state letter prefix plus serial.
			regexp.MustCompile(`\b[A-Z][0-9]{7,12}\b`),
		},
	}
}

func (d *Detector) detectIDs(text, language string) []entity.Span {
	return matchRules(text, rulesFor(d.id, language), entity.ID, "id")
}

func (d *Detector) detectLicenses(text, language string) []entity.Span {
	return matchRules(text, rulesFor(d.license, language), entity.License, "license")
}

func rulesFor(rules map[string][]*regexp.Regexp, language string) []*regexp.Regexp {
	if set, ok := rules[language]; ok {
		return set
	}
	return rules["en"]
}

func matchRules(text string, rules []*regexp.Regexp, typ entity.Type, source string) []entity.Span {
	var spans []entity.Span
	for _, re := range rules {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			// Prefer the first capture group when present so that label
			// words anchoring the match are not swallowed.
			if len(loc) >= 4 && loc[2] >= 0 {
				start, end = loc[2], loc[3]
			}
			value := text[start:end]
			if strings.TrimSpace(value) == "" {
				continue
			}
			spans = append(spans, entity.Span{
				Start:      start,
				End:        end,
				Type:       typ,
				Text:       value,
				Confidence: 1.0,
				Source:     source,
			})
		}
	}
	return dropSelfOverlaps(spans)
}
