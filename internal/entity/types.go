// Package entity defines the span model shared by all detectors and the
// merge stage. A span carries byte offsets into the UTF-8 source text and
// satisfies the invariant text[span.Start:span.End] == span.Text.
package entity

import "fmt"

// Type classifies a detected entity.
type Type string

const (
	Person       Type = "PERSON"
	Location     Type = "LOCATION"
	Organization Type = "ORGANIZATION"
	Email        Type = "EMAIL"
	Phone        Type = "PHONE"
	Date         Type = "DATE"
	ID           Type = "ID"
	IBAN         Type = "IBAN"
	License      Type = "LICENSE"
)

// SourceModel tags spans produced by the statistical model adapter. Pattern
// detectors use their own names ("email", "iban", ...). The tag is only used
// for merge tie-breaking and is never exposed externally.
const SourceModel = "model"

// mergePriority is the fixed precedence used when two overlapping spans have
// identical start and length. Lower value wins. Structured-format detectors
// rank above the statistical types because they are near-zero-false-positive.
var mergePriority = map[Type]int{
	Email:        0,
	IBAN:         1,
	Phone:        2,
	Date:         3,
	License:      4,
	ID:           5,
	Person:       6,
	Location:     7,
	Organization: 8,
}

// Priority returns the merge precedence rank for t. Unknown types sort last.
func (t Type) Priority() int {
	if p, ok := mergePriority[t]; ok {
		return p
	}
	return len(mergePriority)
}

// Valid reports whether t is one of the supported entity types.
func (t Type) Valid() bool {
	_, ok := mergePriority[t]
	return ok
}

// Types lists all supported entity types in merge priority order.
func Types() []Type {
	return []Type{Email, IBAN, Phone, Date, License, ID, Person, Location, Organization}
}

// Span is a single candidate entity mention. Spans are immutable once
// produced by a detector; the merger and orchestrator only read them.
type Span struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Type       Type    `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"-"`
}

// Len returns the span length in bytes.
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether s and other share at least one byte.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// Validate checks the span offsets against the source text it was produced
// from.
func (s Span) Validate(source string) error {
	if s.Start < 0 || s.End > len(source) || s.Start >= s.End {
		return fmt.Errorf("invalid span offsets [%d,%d) for text of length %d", s.Start, s.End, len(source))
	}
	if source[s.Start:s.End] != s.Text {
		return fmt.Errorf("span text does not match source at [%d,%d)", s.Start, s.End)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("unknown entity type %q", s.Type)
	}
	return nil
}
