// Package mapping implements the session-scoped entity mapping store: the
// table assigning each canonical entity key a stable placeholder such as
// PERSON_1, with per-type counters that never reuse a suffix.
package mapping

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/veilware/textveil/internal/entity"
)

// Key identifies one real-world entity within a session: the entity type
// plus the normalized surface text. Two mentions with the same key always
// receive the same placeholder.
type Key struct {
	Type entity.Type
	Text string
}

// String renders the key in its serialized "TYPE:text" form used by
// export payloads.
func (k Key) String() string {
	return string(k.Type) + ":" + k.Text
}

// parseKey reads the serialized key form. A key without a recognized type
// prefix keeps the fallback type.
func parseKey(s string, fallback entity.Type) Key {
	if typ, text, ok := strings.Cut(s, ":"); ok && entity.Type(typ).Valid() {
		return Key{Type: entity.Type(typ), Text: text}
	}
	return Key{Type: fallback, Text: s}
}

// Entry records one mapping inside a session.
type Entry struct {
	Key         Key    `json:"-"`
	CanonicalKey string `json:"canonical_key"`
	Placeholder string `json:"placeholder"`
	Original    string `json:"original"`
	EntityType  string `json:"entity_type"`
}

// Statistics summarizes a session's mappings.
type Statistics struct {
	TotalEntities int            `json:"total_entities"`
	ByType        map[string]int `json:"by_type"`
}

// ExportPayload is the serialized form of a session produced by Export and
// accepted back by Import.
type ExportPayload struct {
	SessionID  string            `json:"session_id"`
	Mappings   map[string]string `json:"mappings"`
	Entries    []Entry           `json:"entries,omitempty"`
	Statistics Statistics        `json:"statistics"`
}

// placeholderPattern is the only accepted placeholder shape: a known type
// name, an underscore, and a positive integer suffix.
var placeholderPattern = regexp.MustCompile(`^(PERSON|LOCATION|ORGANIZATION|EMAIL|PHONE|DATE|ID|IBAN|LICENSE)_([1-9][0-9]*)$`)

// splitPlaceholder validates a placeholder and returns its type and suffix.
func splitPlaceholder(placeholder string) (entity.Type, int, error) {
	m := placeholderPattern.FindStringSubmatch(placeholder)
	if m == nil {
		return "", 0, fmt.Errorf("placeholder %q does not match {TYPE}_{N}", placeholder)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("placeholder %q has invalid suffix", placeholder)
	}
	return entity.Type(m[1]), n, nil
}

// ValidationError reports a malformed import payload. It names the
// offending field but never carries surface text beyond the canonical keys
// supplied by the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid mapping payload: " + e.Message
	}
	return fmt.Sprintf("invalid mapping payload: %s: %s", e.Field, e.Message)
}
