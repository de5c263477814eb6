package patterns

import (
	"regexp"
	"strings"

	"github.com/veilware/textveil/internal/entity"
)

// emailPattern matches RFC 5322 addr-spec forms with a dot-atom local part
// and a dotted domain. Quoted local parts and address literals are not
// recognized; they essentially never appear in prose.
var emailPattern = regexp.MustCompile(`[A-Za-z0-9!#$%&'*+/=?^_` + "`" + `{|}~.-]+@[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?)+`)

// detectEmails finds email addresses. Deterministic matches carry
// confidence 1.0.
func detectEmails(text string) []entity.Span {
	var spans []entity.Span
	for _, loc := range emailPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		match := text[start:end]

		// The local-part charset includes dots, so a sentence ending right
		// at an address can drag punctuation in. Trim trailing dots.
		for strings.HasSuffix(match, ".") {
			match = match[:len(match)-1]
			end--
		}
		local, _, ok := strings.Cut(match, "@")
		if !ok || local == "" || strings.HasPrefix(local, ".") || strings.Contains(local, "..") {
			continue
		}
		spans = append(spans, entity.Span{
			Start:      start,
			End:        end,
			Type:       entity.Email,
			Text:       match,
			Confidence: 1.0,
			Source:     "email",
		})
	}
	return dropSelfOverlaps(spans)
}
