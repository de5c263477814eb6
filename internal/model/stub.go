package model

import (
	"context"
	"strings"
)

// StubEntry declares a surface form the stub should report wherever it
// occurs in the input.
type StubEntry struct {
	Text       string
	Label      string
	Confidence float64
}

// Stub is a deterministic Service implementation for tests and for running
// without the statistical model: it reports every occurrence of its
// configured surface forms. No other component can tell it apart from the
// real service.
type Stub struct {
	entries []StubEntry
	err     error
}

// NewStub creates a stub service with canned entries.
func NewStub(entries ...StubEntry) *Stub {
	return &Stub{entries: entries}
}

// NewFailingStub creates a stub whose Detect always fails, for exercising
// degradation paths.
func NewFailingStub(err error) *Stub {
	return &Stub{err: err}
}

// Detect reports all occurrences of the configured entries. Longer entries
// are matched first so that "Max Müller" shadows "Max" at the same offset.
func (s *Stub) Detect(_ context.Context, text, _ string) ([]RawSpan, error) {
	if s.err != nil {
		return nil, s.err
	}

	entries := make([]StubEntry, len(s.entries))
	copy(entries, s.entries)
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			if len(entries[j].Text) > len(entries[i].Text) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	var spans []RawSpan
	claimed := make([]bool, len(text))
	for _, e := range entries {
		if e.Text == "" {
			continue
		}
		conf := e.Confidence
		if conf == 0 {
			conf = 0.95
		}
		for from := 0; ; {
			i := strings.Index(text[from:], e.Text)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(e.Text)
			from = end
			if regionClaimed(claimed, start, end) {
				continue
			}
			markClaimed(claimed, start, end)
			spans = append(spans, RawSpan{
				Start:      start,
				End:        end,
				Label:      e.Label,
				Text:       e.Text,
				Confidence: conf,
			})
		}
	}
	return spans, nil
}

func regionClaimed(claimed []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if claimed[i] {
			return true
		}
	}
	return false
}

func markClaimed(claimed []bool, start, end int) {
	for i := start; i < end; i++ {
		claimed[i] = true
	}
}
