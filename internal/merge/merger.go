// Package merge combines candidate spans from all detectors into a final
// non-overlapping span list. The original pipeline resolved conflicts with
// ad hoc pairwise rules; this stage replaces that with a total ordering over
// tie-break criteria so the outcome never depends on detector call order.
package merge

import (
	"sort"

	"github.com/veilware/textveil/internal/entity"
)

// Merge resolves overlaps among candidates and returns the surviving spans
// sorted by start offset. The ordering is: earlier start first, then longer
// span, then higher confidence. Spans identical in start and length fall
// back to source precision (pattern detectors beat the model) and then to
// the fixed type priority table, so a phone match over the same digits as a
// model PERSON guess always wins.
func Merge(candidates []entity.Span) []entity.Span {
	if len(candidates) == 0 {
		return nil
	}

	ordered := make([]entity.Span, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if ra, rb := sourceRank(a), sourceRank(b); ra != rb {
			return ra < rb
		}
		return a.Type.Priority() < b.Type.Priority()
	})

	// Greedy sweep: accept a span unless it overlaps one already accepted.
	accepted := ordered[:0]
	for _, candidate := range ordered {
		conflict := false
		for _, kept := range accepted {
			if candidate.Overlaps(kept) {
				conflict = true
				break
			}
		}
		if !conflict {
			accepted = append(accepted, candidate)
		}
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})
	return accepted
}

func sourceRank(s entity.Span) int {
	if s.Source == entity.SourceModel {
		return 1
	}
	return 0
}
