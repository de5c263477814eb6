// Package langdetect provides the language classifier the engine consumes.
// The engine treats it as a black box returning a language code plus
// confidence; this default implementation scores stopword hits, which is
// plenty for routing between the German and English rule sets.
package langdetect

import (
	"strings"
	"unicode"
)

// DefaultLanguage is used when detection cannot decide.
const DefaultLanguage = "en"

// SupportedLanguages maps supported codes to display names.
var SupportedLanguages = map[string]string{
	"de": "German",
	"en": "English",
}

// Classifier detects the language of a text.
type Classifier interface {
	Detect(text string) (language string, confidence float64)
}

var germanStopwords = makeSet(
	"der", "die", "das", "und", "ist", "ich", "nicht", "ein", "eine",
	"mit", "auf", "für", "von", "dem", "den", "des", "im", "zu", "bei",
	"wohnt", "arbeitet", "wird", "sind", "auch", "aber", "oder", "wie",
	"aus", "nach", "über", "wurde", "hat", "sich", "sein", "ihre",
)

var englishStopwords = makeSet(
	"the", "and", "is", "in", "to", "of", "a", "that", "it", "for",
	"was", "on", "are", "with", "as", "at", "his", "her", "they",
	"this", "have", "from", "not", "works", "lives", "but", "by", "an",
)

// sampleLength bounds how much text is scored; the opening of a document is
// enough to separate the supported languages.
const sampleLength = 400

// Stopword is a Classifier scoring stopword frequency per language.
type Stopword struct{}

// NewStopword returns the default stopword-scoring classifier.
func NewStopword() *Stopword {
	return &Stopword{}
}

// Detect returns the detected language code and a confidence in [0,1].
// Texts with no scoring evidence fall back to the default language with
// zero confidence.
func (c *Stopword) Detect(text string) (string, float64) {
	sample := text
	if len(sample) > sampleLength {
		sample = sample[:sampleLength]
	}

	words := strings.FieldsFunc(strings.ToLower(sample), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return DefaultLanguage, 0
	}

	deHits, enHits := 0, 0
	for _, w := range words {
		if germanStopwords[w] {
			deHits++
		}
		if englishStopwords[w] {
			enHits++
		}
	}

	best, hits := DefaultLanguage, enHits
	if deHits > enHits {
		best, hits = "de", deHits
	}
	if hits == 0 {
		return DefaultLanguage, 0
	}

	confidence := float64(hits) / float64(len(words))
	if confidence > 1 {
		confidence = 1
	}
	// A handful of stopword hits is already strong evidence.
	confidence = 0.5 + confidence*0.5
	return best, confidence
}

func makeSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
