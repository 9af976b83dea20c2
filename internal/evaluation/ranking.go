package evaluation

import (
	"fmt"
	"sort"

	apperrors "github.com/campusworks/comp-eval/internal/errors"
)

// AssignRanks computes deterministic competition ranks for all committed
// records of one peer group and returns them rank-ascending. Tied students
// (equal total score and equal GPA) share a rank; the next distinct score
// resumes at previous rank + tie group size, so three students at 95/88/88
// rank 1, 2, 2 and a fourth at 80 ranks 4.
//
// The input is never mutated: ranks are written into a copied slice so a
// failed pass cannot leak partial state to callers.
func AssignRanks(records []CompositeRecord, scope RankScope) ([]CompositeRecord, error) {
	if !scope.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown rank scope %q", scope))
	}

	if len(records) == 0 {
		return []CompositeRecord{}, nil
	}

	term := records[0].Term
	for i := range records {
		if records[i].Term != term {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("ranking input mixes terms %s and %s", term, records[i].Term))
		}
	}

	ranked := make([]CompositeRecord, len(records))
	copy(ranked, records)

	// Order: total score desc, GPA desc with absent GPA last, student id asc.
	// The student id tie-break makes the ordering a strict total order.
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if !gpaEqual(a.GPA, b.GPA) {
			return gpaLess(b.GPA, a.GPA)
		}
		return a.StudentID < b.StudentID
	})

	rank := 1
	for i := range ranked {
		if i > 0 && !scoresTied(&ranked[i], &ranked[i-1]) {
			rank = i + 1
		}
		ranked[i].setRankIn(scope, rank)
	}

	return ranked, nil
}

// scoresTied reports whether two records share a competition rank
func scoresTied(a, b *CompositeRecord) bool {
	return a.TotalScore == b.TotalScore && gpaEqual(a.GPA, b.GPA)
}

// gpaEqual treats two absent GPAs as equal, absent vs present as distinct
func gpaEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// gpaLess orders GPAs ascending with absent values first, so that sorting by
// the inverse puts absent GPAs last
func gpaLess(a, b *float64) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return *a < *b
}
