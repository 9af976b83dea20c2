package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/campusworks/comp-eval/internal/errors"
	"github.com/campusworks/comp-eval/internal/evaluation"
)

// Repository handles student and composite-record operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// UpsertStudent records or refreshes a student's class and cohort membership
func (r *Repository) UpsertStudent(ctx context.Context, s Student) error {
	stmt, err := r.db.GetPreparedStatement("upsert_student")
	if err != nil {
		return err
	}

	_, err = stmt.ExecContext(ctx, s.StudentID, s.Name, s.ClassID, s.GradeYear, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert student: %w", err)
	}

	return nil
}

// GetStudent returns a student's membership facts, or nil when unknown
func (r *Repository) GetStudent(ctx context.Context, studentID int64) (*Student, error) {
	stmt, err := r.db.GetPreparedStatement("get_student")
	if err != nil {
		return nil, err
	}

	var s Student
	err = stmt.QueryRowContext(ctx, studentID).
		Scan(&s.StudentID, &s.Name, &s.ClassID, &s.GradeYear, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student: %w", err)
	}

	return &s, nil
}

// GetRecord returns the committed composite record for a student and term,
// or nil when none has been aggregated yet
func (r *Repository) GetRecord(ctx context.Context, studentID int64, term evaluation.Term) (*evaluation.CompositeRecord, error) {
	stmt, err := r.db.GetPreparedStatement("get_record")
	if err != nil {
		return nil, err
	}

	row := stmt.QueryRowContext(ctx, studentID, term.AcademicYear, term.Semester)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return rec, nil
}

// SaveRecord commits a freshly aggregated record as a full replacement for
// the (student, term) pair. baseVersion must match the committed version the
// aggregation started from; a mismatch means a newer aggregate already
// committed and the write is rejected with a conflict so stale inputs can
// never clobber newer ones. Rank columns are always reset: a re-aggregated
// student drops back to the Aggregated state.
func (r *Repository) SaveRecord(ctx context.Context, rec evaluation.CompositeRecord, baseVersion int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `
		SELECT version FROM composite_records
		WHERE student_id = ? AND academic_year = ? AND semester = ?
	`, rec.StudentID, rec.Term.AcademicYear, rec.Term.Semester).Scan(&current)

	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to read record version: %w", err)
	}

	if current != baseVersion {
		return 0, apperrors.NewConflictError(fmt.Sprintf(
			"aggregate for student %d in %s is stale: committed version %d, expected %d",
			rec.StudentID, rec.Term, current, baseVersion))
	}

	totalsJSON, err := json.Marshal(rec.BonusTotals)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal bonus totals: %w", err)
	}

	newVersion := current + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO composite_records (
			student_id, academic_year, semester,
			academic_score, innovation_score, social_score, cultural_sports_score,
			bonus_totals, total_score, gpa, class_rank, grade_rank, version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)
		ON CONFLICT(student_id, academic_year, semester) DO UPDATE SET
			academic_score = excluded.academic_score,
			innovation_score = excluded.innovation_score,
			social_score = excluded.social_score,
			cultural_sports_score = excluded.cultural_sports_score,
			bonus_totals = excluded.bonus_totals,
			total_score = excluded.total_score,
			gpa = excluded.gpa,
			class_rank = NULL,
			grade_rank = NULL,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, rec.StudentID, rec.Term.AcademicYear, rec.Term.Semester,
		rec.Scores.Academic, rec.Scores.Innovation, rec.Scores.Social, rec.Scores.CulturalSports,
		string(totalsJSON), rec.TotalScore, nullableFloat(rec.GPA), newVersion, rec.UpdatedAt)

	if err != nil {
		return 0, fmt.Errorf("failed to save record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit record: %w", err)
	}

	return newVersion, nil
}

// ListByClass returns all committed records for one class in a term
func (r *Repository) ListByClass(ctx context.Context, term evaluation.Term, classID int64) ([]evaluation.CompositeRecord, error) {
	return r.listRecords(ctx, `
		SELECT r.student_id, s.name, s.class_id, s.grade_year,
			r.academic_year, r.semester,
			r.academic_score, r.innovation_score, r.social_score, r.cultural_sports_score,
			r.bonus_totals, r.total_score, r.gpa, r.class_rank, r.grade_rank,
			r.version, r.updated_at
		FROM composite_records r
		JOIN students s ON s.student_id = r.student_id
		WHERE r.academic_year = ? AND r.semester = ? AND s.class_id = ?
		ORDER BY r.student_id ASC
	`, term.AcademicYear, term.Semester, classID)
}

// ListByGrade returns all committed records for one cohort in a term
func (r *Repository) ListByGrade(ctx context.Context, term evaluation.Term, gradeYear string) ([]evaluation.CompositeRecord, error) {
	return r.listRecords(ctx, `
		SELECT r.student_id, s.name, s.class_id, s.grade_year,
			r.academic_year, r.semester,
			r.academic_score, r.innovation_score, r.social_score, r.cultural_sports_score,
			r.bonus_totals, r.total_score, r.gpa, r.class_rank, r.grade_rank,
			r.version, r.updated_at
		FROM composite_records r
		JOIN students s ON s.student_id = r.student_id
		WHERE r.academic_year = ? AND r.semester = ? AND s.grade_year = ?
		ORDER BY r.student_id ASC
	`, term.AcademicYear, term.Semester, gradeYear)
}

// ClassIDs returns the distinct classes with committed records in a term
func (r *Repository) ClassIDs(ctx context.Context, term evaluation.Term) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT s.class_id
		FROM composite_records r
		JOIN students s ON s.student_id = r.student_id
		WHERE r.academic_year = ? AND r.semester = ?
		ORDER BY s.class_id ASC
	`, term.AcademicYear, term.Semester)
	if err != nil {
		return nil, fmt.Errorf("failed to query class ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan class id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// GradeYears returns the distinct cohorts with committed records in a term
func (r *Repository) GradeYears(ctx context.Context, term evaluation.Term) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT s.grade_year
		FROM composite_records r
		JOIN students s ON s.student_id = r.student_id
		WHERE r.academic_year = ? AND r.semester = ?
		ORDER BY s.grade_year ASC
	`, term.AcademicYear, term.Semester)
	if err != nil {
		return nil, fmt.Errorf("failed to query grade years: %w", err)
	}
	defer rows.Close()

	var years []string
	for rows.Next() {
		var y string
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("failed to scan grade year: %w", err)
		}
		years = append(years, y)
	}

	return years, rows.Err()
}

// CommitRanks writes an entire scope's ranks in one transaction. Either every
// record in the ranked set receives its new rank or none do, so readers never
// observe a half-updated scope.
func (r *Repository) CommitRanks(ctx context.Context, term evaluation.Term, scope evaluation.RankScope, ranked []evaluation.CompositeRecord) error {
	column := "class_rank"
	if scope == evaluation.ScopeGrade {
		column = "grade_rank"
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Clear the whole scope first so students whose record dropped out of
	// the ranked set do not keep a stale rank
	if scope == evaluation.ScopeClass && len(ranked) > 0 {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE composite_records SET %s = NULL
			WHERE academic_year = ? AND semester = ?
			AND student_id IN (SELECT student_id FROM students WHERE class_id = ?)
		`, column), term.AcademicYear, term.Semester, ranked[0].ClassID)
	} else if scope == evaluation.ScopeGrade && len(ranked) > 0 {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE composite_records SET %s = NULL
			WHERE academic_year = ? AND semester = ?
			AND student_id IN (SELECT student_id FROM students WHERE grade_year = ?)
		`, column), term.AcademicYear, term.Semester, ranked[0].GradeYear)
	}
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", column, err)
	}

	for i := range ranked {
		rank := ranked[i].RankIn(scope)
		if rank == nil {
			return fmt.Errorf("ranked record for student %d missing %s", ranked[i].StudentID, column)
		}

		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE composite_records SET %s = ?
			WHERE student_id = ? AND academic_year = ? AND semester = ? AND version = ?
		`, column), *rank, ranked[i].StudentID, term.AcademicYear, term.Semester, ranked[i].Version)
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", column, err)
		}

		// A version mismatch means an aggregation replaced this record while
		// the pass was running; abort so the pass can be retried on fresh data
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rank write: %w", err)
		}
		if affected == 0 {
			return apperrors.NewConflictError(fmt.Sprintf(
				"record for student %d changed during ranking pass for %s", ranked[i].StudentID, term))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ranks: %w", err)
	}

	return nil
}

// ListRanked returns records with a committed rank in the given scope for a
// term, rank ascending, capped at limit. An empty slice means no ranking has
// run yet.
func (r *Repository) ListRanked(ctx context.Context, term evaluation.Term, scope evaluation.RankScope, limit int) ([]evaluation.CompositeRecord, error) {
	rankColumn := "r.class_rank"
	if scope == evaluation.ScopeGrade {
		rankColumn = "r.grade_rank"
	}

	return r.listRecords(ctx, fmt.Sprintf(`
		SELECT r.student_id, s.name, s.class_id, s.grade_year,
			r.academic_year, r.semester,
			r.academic_score, r.innovation_score, r.social_score, r.cultural_sports_score,
			r.bonus_totals, r.total_score, r.gpa, r.class_rank, r.grade_rank,
			r.version, r.updated_at
		FROM composite_records r
		JOIN students s ON s.student_id = r.student_id
		WHERE r.academic_year = ? AND r.semester = ? AND %s IS NOT NULL
		ORDER BY %s ASC, r.student_id ASC
		LIMIT ?
	`, rankColumn, rankColumn), term.AcademicYear, term.Semester, limit)
}

// ListForExport returns a term's records ordered for the evaluation sheet:
// by class rank within one class, by grade rank across the whole term
func (r *Repository) ListForExport(ctx context.Context, term evaluation.Term, classID *int64) ([]evaluation.CompositeRecord, error) {
	if classID != nil {
		return r.listRecords(ctx, `
			SELECT r.student_id, s.name, s.class_id, s.grade_year,
				r.academic_year, r.semester,
				r.academic_score, r.innovation_score, r.social_score, r.cultural_sports_score,
				r.bonus_totals, r.total_score, r.gpa, r.class_rank, r.grade_rank,
				r.version, r.updated_at
			FROM composite_records r
			JOIN students s ON s.student_id = r.student_id
			WHERE r.academic_year = ? AND r.semester = ? AND s.class_id = ?
			ORDER BY r.class_rank IS NULL, r.class_rank ASC, r.student_id ASC
		`, term.AcademicYear, term.Semester, *classID)
	}

	return r.listRecords(ctx, `
		SELECT r.student_id, s.name, s.class_id, s.grade_year,
			r.academic_year, r.semester,
			r.academic_score, r.innovation_score, r.social_score, r.cultural_sports_score,
			r.bonus_totals, r.total_score, r.gpa, r.class_rank, r.grade_rank,
			r.version, r.updated_at
		FROM composite_records r
		JOIN students s ON s.student_id = r.student_id
		WHERE r.academic_year = ? AND r.semester = ?
		ORDER BY r.grade_rank IS NULL, r.grade_rank ASC, r.student_id ASC
	`, term.AcademicYear, term.Semester)
}

// listRecords runs a record query and scans the rows
func (r *Repository) listRecords(ctx context.Context, query string, args ...interface{}) ([]evaluation.CompositeRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := make([]evaluation.CompositeRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans one composite record row including nullable rank and GPA
// columns and the JSON bonus totals
func scanRecord(row rowScanner) (*evaluation.CompositeRecord, error) {
	var rec evaluation.CompositeRecord
	var totalsJSON string
	var gpa sql.NullFloat64
	var classRank, gradeRank sql.NullInt64

	err := row.Scan(
		&rec.StudentID, &rec.StudentName, &rec.ClassID, &rec.GradeYear,
		&rec.Term.AcademicYear, &rec.Term.Semester,
		&rec.Scores.Academic, &rec.Scores.Innovation, &rec.Scores.Social, &rec.Scores.CulturalSports,
		&totalsJSON, &rec.TotalScore, &gpa, &classRank, &gradeRank,
		&rec.Version, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(totalsJSON), &rec.BonusTotals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bonus totals: %w", err)
	}

	if gpa.Valid {
		v := gpa.Float64
		rec.GPA = &v
	}
	if classRank.Valid {
		v := int(classRank.Int64)
		rec.ClassRank = &v
	}
	if gradeRank.Valid {
		v := int(gradeRank.Int64)
		rec.GradeRank = &v
	}

	return &rec, nil
}

// nullableFloat converts an optional float for sqlite binding
func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
