package evaluation

import (
	"fmt"
	"time"

	apperrors "github.com/campusworks/comp-eval/internal/errors"
)

// Aggregator combines raw component scores and bonus totals into a composite
// record. The total is a pure function of its inputs: recomputing with the
// same scores, bonus totals and weight table always yields the same value.
type Aggregator struct {
	weights WeightTable
}

// NewAggregator creates an aggregator with the configured weight table
func NewAggregator(weights WeightTable) (*Aggregator, error) {
	if err := weights.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid weight table", err.Error())
	}
	return &Aggregator{weights: weights}, nil
}

// Weights returns the active weight table
func (a *Aggregator) Weights() WeightTable {
	return a.weights
}

// Aggregate produces a fresh CompositeRecord for one student and term.
// Rank fields are always unranked on the result; only a full-scope ranking
// pass sets them. Incomplete or negative inputs fail with a validation error
// and nothing reaches committed state.
func (a *Aggregator) Aggregate(studentID int64, term Term, scores ComponentScoreSet, bonusTotals map[string]float64, gpa *float64) (CompositeRecord, error) {
	if studentID <= 0 {
		return CompositeRecord{}, apperrors.NewValidationError("student_id must be positive")
	}
	if err := term.Validate(); err != nil {
		return CompositeRecord{}, err
	}
	if !scores.Complete() {
		return CompositeRecord{}, apperrors.NewValidationError(
			fmt.Sprintf("incomplete component scores for student %d in %s", studentID, term))
	}

	concrete := ComponentScores{
		Academic:       *scores.Academic,
		Innovation:     *scores.Innovation,
		Social:         *scores.Social,
		CulturalSports: *scores.CulturalSports,
	}

	for name, v := range map[string]float64{
		"academic_score":        concrete.Academic,
		"innovation_score":      concrete.Innovation,
		"social_score":          concrete.Social,
		"cultural_sports_score": concrete.CulturalSports,
	} {
		if v < 0 {
			return CompositeRecord{}, apperrors.NewValidationError(
				fmt.Sprintf("%s must be non-negative, got %v", name, v))
		}
	}

	// Missing bonus totals are an expected state, not an error
	totals := make(map[string]float64, len(bonusTotals))
	bonusSum := 0.0
	for category, sum := range bonusTotals {
		totals[category] = sum
		bonusSum += sum
	}

	record := CompositeRecord{
		StudentID:   studentID,
		Term:        term,
		Scores:      concrete,
		BonusTotals: totals,
		TotalScore:  a.weights.WeightedSum(concrete) + bonusSum,
		GPA:         gpa,
		UpdatedAt:   time.Now(),
	}

	// ClassRank and GradeRank stay nil: a fresh aggregate is always unranked

	return record, nil
}
