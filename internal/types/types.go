package types

// StudentRequest registers or updates a student roster entry
type StudentRequest struct {
	StudentID int64  `json:"student_id" binding:"required"`
	Name      string `json:"name" binding:"required"`
	ClassID   int64  `json:"class_id" binding:"required"`
	GradeYear string `json:"grade_year" binding:"required"`
}

// EvaluationRequest carries one student's component scores for a term.
// Score fields are pointers so an omitted dimension is distinguishable
// from zero; aggregation requires all four.
type EvaluationRequest struct {
	StudentID           int64    `json:"student_id" binding:"required"`
	AcademicYear        string   `json:"academic_year" binding:"required"`
	Semester            int      `json:"semester" binding:"required"`
	AcademicScore       *float64 `json:"academic_score"`
	InnovationScore     *float64 `json:"innovation_score"`
	SocialScore         *float64 `json:"social_score"`
	CulturalSportsScore *float64 `json:"cultural_sports_score"`
	GPA                 *float64 `json:"gpa"`
}

// BonusRequest records one itemized bonus entry
type BonusRequest struct {
	StudentID    int64   `json:"student_id" binding:"required"`
	AcademicYear string  `json:"academic_year" binding:"required"`
	Semester     int     `json:"semester" binding:"required"`
	Category     string  `json:"category" binding:"required"`
	ItemName     string  `json:"item_name" binding:"required"`
	Score        float64 `json:"score"`
	Description  string  `json:"description"`
}

// RankingRequest triggers a full ranking recompute for a term
type RankingRequest struct {
	AcademicYear string `json:"academic_year" binding:"required"`
	Semester     int    `json:"semester" binding:"required"`
}
