package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campusworks/comp-eval/internal/bonus"
	apperrors "github.com/campusworks/comp-eval/internal/errors"
	"github.com/campusworks/comp-eval/internal/evaluation"
	"github.com/campusworks/comp-eval/internal/store"
)

// Invalidator receives a notification whenever committed state for a term
// changes, so read-side caches can drop stale responses
type Invalidator interface {
	InvalidateTerm(term evaluation.Term)
}

// Service coordinates aggregation and ranking passes over committed records.
// All mutations commit atomically: a failed or timed-out pass leaves the
// previously committed state untouched.
type Service struct {
	repo       *store.Repository
	ledger     *bonus.Ledger
	aggregator *evaluation.Aggregator
	locks      *scopeLocks
	timeout    time.Duration
	cache      Invalidator
}

// NewService creates a ranking service. cache may be nil when no read cache
// is wired.
func NewService(repo *store.Repository, ledger *bonus.Ledger, aggregator *evaluation.Aggregator, timeout time.Duration, cache Invalidator) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		repo:       repo,
		ledger:     ledger,
		aggregator: aggregator,
		locks:      newScopeLocks(),
		timeout:    timeout,
		cache:      cache,
	}
}

// AggregateStudent recomputes one student's composite record from the raw
// component scores and the current bonus ledger, replacing any committed
// record for that student and term. The student drops back to the
// unranked Aggregated state until the next full-scope ranking pass.
func (s *Service) AggregateStudent(ctx context.Context, studentID int64, term evaluation.Term, scores evaluation.ComponentScoreSet, gpa *float64) (*evaluation.CompositeRecord, error) {
	student, err := s.repo.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("unknown student %d", studentID))
	}

	// The committed version the aggregation starts from; the save rejects
	// the write if a newer aggregate committed in between
	var baseVersion int64
	if current, err := s.repo.GetRecord(ctx, studentID, term); err != nil {
		return nil, err
	} else if current != nil {
		baseVersion = current.Version
	}

	totals, err := s.ledger.TotalsByCategory(ctx, studentID, term)
	if err != nil {
		return nil, err
	}

	rec, err := s.aggregator.Aggregate(studentID, term, scores, totals, gpa)
	if err != nil {
		return nil, err
	}

	rec.StudentName = student.Name
	rec.ClassID = student.ClassID
	rec.GradeYear = student.GradeYear

	version, err := s.repo.SaveRecord(ctx, rec, baseVersion)
	if err != nil {
		return nil, err
	}
	rec.Version = version

	if s.cache != nil {
		s.cache.InvalidateTerm(term)
	}

	slog.Info("Composite record aggregated",
		"student_id", studentID,
		"term", term.Key(),
		"total_score", rec.TotalScore,
		"version", version,
	)

	return &rec, nil
}

// RecomputeTerm runs a full ranking pass for every class scope and every
// grade scope that has committed records in the term. Each scope commits
// independently and atomically; the two scope kinds never interact.
func (s *Service) RecomputeTerm(ctx context.Context, term evaluation.Term) error {
	if err := term.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()

	classIDs, err := s.repo.ClassIDs(ctx, term)
	if err != nil {
		return s.wrapDeadline(ctx, err, term)
	}

	for _, classID := range classIDs {
		if err := s.recomputeClass(ctx, term, classID); err != nil {
			return s.wrapDeadline(ctx, err, term)
		}
	}

	gradeYears, err := s.repo.GradeYears(ctx, term)
	if err != nil {
		return s.wrapDeadline(ctx, err, term)
	}

	for _, gradeYear := range gradeYears {
		if err := s.recomputeGrade(ctx, term, gradeYear); err != nil {
			return s.wrapDeadline(ctx, err, term)
		}
	}

	if s.cache != nil {
		s.cache.InvalidateTerm(term)
	}

	slog.Info("Ranking recompute completed",
		"term", term.Key(),
		"classes", len(classIDs),
		"grades", len(gradeYears),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// recomputeClass ranks one class scope under its exclusive lock
func (s *Service) recomputeClass(ctx context.Context, term evaluation.Term, classID int64) error {
	key := fmt.Sprintf("%s|class|%d", term.Key(), classID)
	acquired, release := s.locks.tryAcquire(key)
	if !acquired {
		return apperrors.NewConflictError(fmt.Sprintf(
			"ranking pass already in flight for class %d in %s", classID, term))
	}
	defer release()

	records, err := s.repo.ListByClass(ctx, term, classID)
	if err != nil {
		return err
	}

	ranked, err := evaluation.AssignRanks(records, evaluation.ScopeClass)
	if err != nil {
		return err
	}
	if len(ranked) == 0 {
		return nil
	}

	return s.repo.CommitRanks(ctx, term, evaluation.ScopeClass, ranked)
}

// recomputeGrade ranks one cohort scope under its exclusive lock
func (s *Service) recomputeGrade(ctx context.Context, term evaluation.Term, gradeYear string) error {
	key := fmt.Sprintf("%s|grade|%s", term.Key(), gradeYear)
	acquired, release := s.locks.tryAcquire(key)
	if !acquired {
		return apperrors.NewConflictError(fmt.Sprintf(
			"ranking pass already in flight for grade %s in %s", gradeYear, term))
	}
	defer release()

	records, err := s.repo.ListByGrade(ctx, term, gradeYear)
	if err != nil {
		return err
	}

	ranked, err := evaluation.AssignRanks(records, evaluation.ScopeGrade)
	if err != nil {
		return err
	}
	if len(ranked) == 0 {
		return nil
	}

	return s.repo.CommitRanks(ctx, term, evaluation.ScopeGrade, ranked)
}

// wrapDeadline maps a context deadline hit into the retryable timeout
// category. The scope transactions roll back, so prior state is intact.
func (s *Service) wrapDeadline(ctx context.Context, err error, term evaluation.Term) error {
	if ctx.Err() == context.DeadlineExceeded {
		return apperrors.NewTimeoutError(fmt.Sprintf(
			"ranking recompute for %s exceeded %s; committed ranking unchanged", term, s.timeout), err)
	}
	return err
}
