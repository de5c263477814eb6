package pseudonymizer

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/veilware/textveil/internal/entity"
	"github.com/veilware/textveil/internal/mapping"
	"github.com/veilware/textveil/internal/patterns"
)

// canonicalKey derives the equivalence key for a merged span. Exact-format
// types fold case and whitespace; dates canonicalize to their calendar date
// unless the surface form is ambiguous; name types fold like exact-format
// types, with the session-scoped containment rule applied later by the
// mapping store.
func canonicalKey(span entity.Span, language string) mapping.Key {
	text := foldText(span.Text)

	if span.Type == entity.Date {
		if date, ok, ambiguous := patterns.ParseDate(span.Text, language); ok && !ambiguous {
			text = date.Format("2006-01-02")
		}
	}

	return mapping.Key{Type: span.Type, Text: text}
}

// foldText normalizes surface text for equivalence: Unicode NFKC, lowercase,
// surrounding whitespace trimmed, and inner whitespace runs collapsed to a
// single space.
func foldText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}
