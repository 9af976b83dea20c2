package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campusworks/comp-eval/internal/auth"
	"github.com/campusworks/comp-eval/internal/bonus"
	apperrors "github.com/campusworks/comp-eval/internal/errors"
	"github.com/campusworks/comp-eval/internal/evaluation"
	"github.com/campusworks/comp-eval/internal/store"
)

// RankingEntry is one row of a committed ranking list
type RankingEntry struct {
	Rank        int                        `json:"rank"`
	StudentID   int64                      `json:"student_id"`
	StudentName string                     `json:"student_name"`
	ClassID     int64                      `json:"class_id"`
	TotalScore  float64                    `json:"total_score"`
	GPA         *float64                   `json:"gpa,omitempty"`
	Scores      evaluation.ComponentScores `json:"component_scores"`
	BonusTotal  float64                    `json:"bonus_total"`
}

// RankingResponse is the ranking list payload. Message is set when the term
// has no committed ranking yet, which is an expected state, not an error.
type RankingResponse struct {
	Term        evaluation.Term      `json:"term"`
	Scope       evaluation.RankScope `json:"scope"`
	Rankings    []RankingEntry       `json:"rankings"`
	Message     string               `json:"message,omitempty"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// StudentDetail is the full per-student evaluation payload, committed record
// plus the bonus entries behind its category totals
type StudentDetail struct {
	Record       evaluation.CompositeRecord `json:"record"`
	State        evaluation.RecordState     `json:"state"`
	BonusEntries []bonus.Entry              `json:"bonus_entries"`
}

// Service answers read requests from committed state only. Both reads are
// cached per term; write-side commits invalidate through RankingCache.
type Service struct {
	repo   *store.Repository
	ledger *bonus.Ledger
	cache  *RankingCache
}

// NewService creates a query service. cache may be nil to disable caching.
func NewService(repo *store.Repository, ledger *bonus.Ledger, cache *RankingCache) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		cache:  cache,
	}
}

const defaultRankingLimit = 50

// ListRanking returns the committed ranking for a term in the given scope,
// best rank first. A term with no committed ranking yields an empty list,
// not an error.
func (s *Service) ListRanking(ctx context.Context, term evaluation.Term, scope evaluation.RankScope, limit int) (*RankingResponse, error) {
	if err := term.Validate(); err != nil {
		return nil, err
	}
	if !scope.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown rank scope %q", scope))
	}
	if limit <= 0 {
		limit = defaultRankingLimit
	}

	if s.cache != nil {
		if cached, found := s.cache.GetRankingList(term, scope, limit); found {
			return cached, nil
		}
	}

	records, err := s.repo.ListRanked(ctx, term, scope, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]RankingEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, RankingEntry{
			Rank:        *rec.RankIn(scope),
			StudentID:   rec.StudentID,
			StudentName: rec.StudentName,
			ClassID:     rec.ClassID,
			TotalScore:  rec.TotalScore,
			GPA:         rec.GPA,
			Scores:      rec.Scores,
			BonusTotal:  rec.BonusSum(),
		})
	}

	response := &RankingResponse{
		Term:        term,
		Scope:       scope,
		Rankings:    entries,
		GeneratedAt: time.Now(),
	}
	if len(entries) == 0 {
		response.Message = "no ranking computed for this term yet"
	}

	if s.cache != nil {
		s.cache.SetRankingList(term, scope, limit, response)
	}

	slog.Debug("Ranking list served", "term", term.Key(), "scope", scope, "entries", len(entries))
	return response, nil
}

// GetStudentDetail returns one student's committed record and bonus entries
// for a term. Visibility is checked before existence so a student probing
// another student's record cannot learn whether it exists.
func (s *Service) GetStudentDetail(ctx context.Context, studentID int64, term evaluation.Term, caller auth.Caller) (*StudentDetail, error) {
	if studentID <= 0 {
		return nil, apperrors.NewValidationError("student id must be positive")
	}
	if err := term.Validate(); err != nil {
		return nil, err
	}

	if !caller.CanViewStudent(studentID) {
		return nil, apperrors.NewForbiddenError(fmt.Sprintf(
			"role %s may not view student %d", caller.Role, studentID))
	}

	if s.cache != nil {
		if cached, found := s.cache.GetStudentDetail(term, studentID); found {
			return cached, nil
		}
	}

	rec, err := s.repo.GetRecord(ctx, studentID, term)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf(
			"no evaluation record for student %d in %s", studentID, term))
	}

	entries, err := s.ledger.EntriesFor(ctx, studentID, term)
	if err != nil {
		return nil, err
	}

	detail := &StudentDetail{
		Record:       *rec,
		State:        rec.State(),
		BonusEntries: entries,
	}

	if s.cache != nil {
		s.cache.SetStudentDetail(term, studentID, detail)
	}

	return detail, nil
}
