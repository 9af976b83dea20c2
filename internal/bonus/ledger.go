package bonus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/campusworks/comp-eval/internal/errors"
	"github.com/campusworks/comp-eval/internal/evaluation"
	"github.com/campusworks/comp-eval/internal/store"
	"github.com/google/uuid"
)

// Entry is one itemized, categorized extra-credit contribution to a student's
// term evaluation. Entries are immutable once recorded: the ledger is an
// audit trail, and corrections are made by recording an offsetting entry.
type Entry struct {
	ID          string          `json:"id"`
	StudentID   int64           `json:"student_id"`
	Term        evaluation.Term `json:"term"`
	Category    string          `json:"category"`
	ItemName    string          `json:"item_name"`
	Score       float64         `json:"score"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Ledger is the append-only store of bonus entries per student and term
type Ledger struct {
	db *store.DB
}

// NewLedger creates a ledger over the shared database
func NewLedger(db *store.DB) *Ledger {
	return &Ledger{db: db}
}

// Record appends an entry to the ledger. The entry is validated before any
// state changes; there is no update or delete path.
func (l *Ledger) Record(ctx context.Context, studentID int64, term evaluation.Term, entry Entry) (*Entry, error) {
	if studentID <= 0 {
		return nil, apperrors.NewValidationError("student_id must be positive")
	}
	if err := term.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(entry.Category) == "" {
		return nil, apperrors.NewValidationError("bonus category cannot be empty")
	}
	if strings.TrimSpace(entry.ItemName) == "" {
		return nil, apperrors.NewValidationError("bonus item name cannot be empty")
	}
	if entry.Score < 0 {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("bonus score must be non-negative, got %v; correct a past entry by recording an offset", entry.Score))
	}

	saved := Entry{
		ID:          uuid.New().String(),
		StudentID:   studentID,
		Term:        term,
		Category:    strings.TrimSpace(entry.Category),
		ItemName:    strings.TrimSpace(entry.ItemName),
		Score:       entry.Score,
		Description: entry.Description,
		CreatedAt:   time.Now(),
	}

	stmt, err := l.db.GetPreparedStatement("insert_bonus")
	if err != nil {
		return nil, err
	}

	_, err = stmt.ExecContext(ctx,
		saved.ID, saved.StudentID, saved.Term.AcademicYear, saved.Term.Semester,
		saved.Category, saved.ItemName, saved.Score, saved.Description, saved.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record bonus entry: %w", err)
	}

	slog.Info("Bonus entry recorded",
		"student_id", saved.StudentID,
		"term", saved.Term.Key(),
		"category", saved.Category,
		"score", saved.Score,
	)

	return &saved, nil
}

// TotalsByCategory returns the category sums for a student and term. A
// student with no entries gets an empty map, never an error.
func (l *Ledger) TotalsByCategory(ctx context.Context, studentID int64, term evaluation.Term) (map[string]float64, error) {
	stmt, err := l.db.GetPreparedStatement("bonus_totals")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, studentID, term.AcademicYear, term.Semester)
	if err != nil {
		return nil, fmt.Errorf("failed to query bonus totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var category string
		var sum float64
		if err := rows.Scan(&category, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan bonus total: %w", err)
		}
		totals[category] = sum
	}

	return totals, rows.Err()
}

// EntriesFor returns a student's entries for a term in insertion order,
// used for the itemized breakdown on the detail view
func (l *Ledger) EntriesFor(ctx context.Context, studentID int64, term evaluation.Term) ([]Entry, error) {
	stmt, err := l.db.GetPreparedStatement("bonus_entries")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, studentID, term.AcademicYear, term.Semester)
	if err != nil {
		return nil, fmt.Errorf("failed to query bonus entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var description *string
		err := rows.Scan(&e.ID, &e.StudentID, &e.Term.AcademicYear, &e.Term.Semester,
			&e.Category, &e.ItemName, &e.Score, &description, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bonus entry: %w", err)
		}
		if description != nil {
			e.Description = *description
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
