package patterns

import (
	"regexp"
	"strings"

	"github.com/veilware/textveil/internal/entity"
)

// ibanPattern matches the ISO 13616 surface form, compact or grouped in
// blocks of four. Checksum validation decides whether a match is emitted.
var ibanPattern = regexp.MustCompile(`\b[A-Z]{2}[0-9]{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,3})?\b`)

// detectIBANs finds checksum-valid IBANs. A string matching the surface
// format but failing the mod-97 check produces no span.
func detectIBANs(text string) []entity.Span {
	var spans []entity.Span
	for _, loc := range ibanPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		match := text[start:end]
		if !validIBAN(match) {
			continue
		}
		spans = append(spans, entity.Span{
			Start:      start,
			End:        end,
			Type:       entity.IBAN,
			Text:       match,
			Confidence: 1.0,
			Source:     "iban",
		})
	}
	return dropSelfOverlaps(spans)
}

// validIBAN implements the ISO 13616 mod-97 check: move the first four
// characters to the end, expand letters to two-digit values (A=10..Z=35),
// and require the resulting number to be congruent to 1 mod 97.
func validIBAN(iban string) bool {
	compact := strings.ReplaceAll(iban, " ", "")
	if len(compact) < 15 || len(compact) > 34 {
		return false
	}
	rearranged := compact[4:] + compact[:4]
	remainder := 0
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			remainder = (remainder*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			v := int(r-'A') + 10
			remainder = (remainder*100 + v) % 97
		default:
			return false
		}
	}
	return remainder == 1
}
