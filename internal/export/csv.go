package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	apperrors "github.com/campusworks/comp-eval/internal/errors"
	"github.com/campusworks/comp-eval/internal/evaluation"
	"github.com/campusworks/comp-eval/internal/store"
)

// Exporter writes committed term sheets as CSV. Only committed records are
// exported; an in-flight recompute never shows up in the file.
type Exporter struct {
	repo *store.Repository
}

// NewExporter creates a CSV exporter over the committed store
func NewExporter(repo *store.Repository) *Exporter {
	return &Exporter{repo: repo}
}

// Filename returns the download filename for a term sheet
func Filename(term evaluation.Term) string {
	return fmt.Sprintf("comprehensive_evaluation_%s_S%d.csv", term.AcademicYear, term.Semester)
}

// WriteTerm streams the term sheet to w. With classID set the sheet covers
// one class ordered by class rank; otherwise the whole term ordered by grade
// rank, with the class rank as a secondary column.
func (e *Exporter) WriteTerm(ctx context.Context, w io.Writer, term evaluation.Term, classID *int64) error {
	if err := term.Validate(); err != nil {
		return err
	}

	records, err := e.repo.ListForExport(ctx, term, classID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)

	header := []string{
		"class_rank", "student_id", "student_name", "class_id",
		"gpa", "academic_score", "innovation_score", "social_score",
		"cultural_sports_score", "bonus_total", "total_score",
	}
	if classID == nil {
		header = append([]string{"grade_rank"}, header...)
	}
	if err := cw.Write(header); err != nil {
		return apperrors.NewInternalError("failed to write export header", err)
	}

	for _, rec := range records {
		row := []string{
			formatRank(rec.ClassRank),
			strconv.FormatInt(rec.StudentID, 10),
			rec.StudentName,
			strconv.FormatInt(rec.ClassID, 10),
			formatOptionalFloat(rec.GPA),
			formatFloat(rec.Scores.Academic),
			formatFloat(rec.Scores.Innovation),
			formatFloat(rec.Scores.Social),
			formatFloat(rec.Scores.CulturalSports),
			formatFloat(rec.BonusSum()),
			formatFloat(rec.TotalScore),
		}
		if classID == nil {
			row = append([]string{formatRank(rec.GradeRank)}, row...)
		}
		if err := cw.Write(row); err != nil {
			return apperrors.NewInternalError("failed to write export row", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return apperrors.NewInternalError("failed to flush export", err)
	}

	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatOptionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatRank(rank *int) string {
	if rank == nil {
		return ""
	}
	return strconv.Itoa(*rank)
}
