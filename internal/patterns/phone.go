package patterns

import (
	"regexp"
	"strings"

	"github.com/veilware/textveil/internal/entity"
)

// E.164 bounds on significant digits.
const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

var (
	// International: "+" or "00" prefix followed by country code and
	// subscriber number, with common grouping characters.
	intlPhonePattern = regexp.MustCompile(`(?:\+|\b00)[1-9][0-9]{0,3}[0-9 \-/().]{5,18}[0-9]`)

	// German local: trunk "0" plus area code, with optional grouping. The
	// mandatory leading zero keeps bare digit runs (years, IDs) out.
	dePhonePattern = regexp.MustCompile(`\b0[1-9][0-9]{1,4}[ \-/]?[0-9]{2,8}(?:[ \-/]?[0-9]{2,6})?\b`)

	// US local: NANP with separators. Separators are required so that plain
	// ten-digit identifiers do not match.
	usPhonePattern = regexp.MustCompile(`\(?[2-9][0-9]{2}\)?[-. ][0-9]{3}[-. ][0-9]{4}\b`)
)

// detectPhones finds phone numbers. International-prefix matches are
// unambiguous and carry confidence 1.0; locale-format matches carry 0.9
// because the surface form alone cannot rule out other numbering schemes.
func detectPhones(text, language string) []entity.Span {
	var spans []entity.Span
	spans = appendPhoneMatches(spans, text, intlPhonePattern, 1.0)
	if language == "de" {
		spans = appendPhoneMatches(spans, text, dePhonePattern, 0.9)
	} else {
		spans = appendPhoneMatches(spans, text, usPhonePattern, 0.9)
	}
	return dropSelfOverlaps(spans)
}

func appendPhoneMatches(spans []entity.Span, text string, re *regexp.Regexp, confidence float64) []entity.Span {
	for _, loc := range re.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		match := text[start:end]

		// Trailing punctuation belongs to the sentence, not the number.
		for end > start && strings.ContainsRune(".-/( ", rune(match[len(match)-1])) {
			match = match[:len(match)-1]
			end--
		}
		if !plausiblePhone(match) {
			continue
		}
		spans = append(spans, entity.Span{
			Start:      start,
			End:        end,
			Type:       entity.Phone,
			Text:       match,
			Confidence: confidence,
			Source:     "phone",
		})
	}
	return spans
}

// plausiblePhone checks digit count against E.164 bounds. Short digit runs
// such as four-digit years must never be reported as phone numbers.
func plausiblePhone(s string) bool {
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= minPhoneDigits && digits <= maxPhoneDigits
}
