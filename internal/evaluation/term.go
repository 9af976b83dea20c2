package evaluation

import (
	"fmt"

	apperrors "github.com/campusworks/comp-eval/internal/errors"
)

// Term identifies a scoring epoch: an academic year plus a semester.
// Every score, bonus entry and rank is scoped to exactly one term.
type Term struct {
	AcademicYear string `json:"academic_year"`
	Semester     int    `json:"semester"`
}

// Validate checks that the term identifies a real scoring epoch
func (t Term) Validate() error {
	if t.AcademicYear == "" {
		return apperrors.NewValidationError("academic_year is required")
	}
	if t.Semester != 1 && t.Semester != 2 {
		return apperrors.NewValidationError(fmt.Sprintf("semester must be 1 or 2, got %d", t.Semester))
	}
	return nil
}

// Key returns a stable string form used for locks and cache keys
func (t Term) Key() string {
	return fmt.Sprintf("%s:S%d", t.AcademicYear, t.Semester)
}

// String returns a human-readable form
func (t Term) String() string {
	return fmt.Sprintf("%s semester %d", t.AcademicYear, t.Semester)
}

// RankScope is the peer group a rank is computed within
type RankScope string

const (
	// ScopeClass ranks students sharing a class identifier
	ScopeClass RankScope = "class"
	// ScopeGrade ranks students sharing a cohort/grade year
	ScopeGrade RankScope = "grade"
)

// Valid reports whether the scope is one of the two known peer groups
func (s RankScope) Valid() bool {
	return s == ScopeClass || s == ScopeGrade
}
