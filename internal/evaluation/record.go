package evaluation

import "time"

// ComponentScoreSet carries the four raw dimension scores as supplied by the
// upstream grading subsystem. Pointers distinguish "not yet supplied" from a
// genuine zero; aggregation refuses incomplete sets.
type ComponentScoreSet struct {
	Academic       *float64 `json:"academic_score"`
	Innovation     *float64 `json:"innovation_score"`
	Social         *float64 `json:"social_score"`
	CulturalSports *float64 `json:"cultural_sports_score"`
}

// Complete reports whether all four dimensions have been supplied
func (s ComponentScoreSet) Complete() bool {
	return s.Academic != nil && s.Innovation != nil && s.Social != nil && s.CulturalSports != nil
}

// ComponentScores holds the validated, concrete dimension scores inside a
// committed record.
type ComponentScores struct {
	Academic       float64 `json:"academic_score"`
	Innovation     float64 `json:"innovation_score"`
	Social         float64 `json:"social_score"`
	CulturalSports float64 `json:"cultural_sports_score"`
}

// RecordState describes where a student's record sits in the
// Missing -> Aggregated -> Ranked lifecycle for one term.
type RecordState string

const (
	StateMissing    RecordState = "missing"
	StateAggregated RecordState = "aggregated"
	StateRanked     RecordState = "ranked"
)

// CompositeRecord is the aggregate unit: one student's evaluation for one term.
// Rank fields stay nil until a full-scope ranking pass commits; a fresh
// aggregation always resets them.
type CompositeRecord struct {
	StudentID   int64              `json:"student_id"`
	StudentName string             `json:"student_name,omitempty"`
	ClassID     int64              `json:"class_id,omitempty"`
	GradeYear   string             `json:"grade_year,omitempty"`
	Term        Term               `json:"term"`
	Scores      ComponentScores    `json:"component_scores"`
	BonusTotals map[string]float64 `json:"bonus_total_by_category"`
	TotalScore  float64            `json:"total_score"`
	GPA         *float64           `json:"gpa,omitempty"`
	ClassRank   *int               `json:"class_rank,omitempty"`
	GradeRank   *int               `json:"grade_rank,omitempty"`
	Version     int64              `json:"version"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// State returns the lifecycle state of the record. A record is Ranked once
// either scope has committed a rank for it.
func (r *CompositeRecord) State() RecordState {
	if r == nil {
		return StateMissing
	}
	if r.ClassRank != nil || r.GradeRank != nil {
		return StateRanked
	}
	return StateAggregated
}

// RankIn returns the committed rank for a scope, or nil when unranked
func (r *CompositeRecord) RankIn(scope RankScope) *int {
	if scope == ScopeClass {
		return r.ClassRank
	}
	return r.GradeRank
}

// setRankIn writes a rank into the field belonging to scope
func (r *CompositeRecord) setRankIn(scope RankScope, rank int) {
	v := rank
	if scope == ScopeClass {
		r.ClassRank = &v
		return
	}
	r.GradeRank = &v
}

// BonusSum returns the sum over all bonus categories
func (r *CompositeRecord) BonusSum() float64 {
	sum := 0.0
	for _, v := range r.BonusTotals {
		sum += v
	}
	return sum
}
