package store

import "time"

// Student is a membership fact consumed from the upstream CRUD subsystem.
// The core never validates whether a class or cohort actually exists; it
// treats these as already-validated facts.
type Student struct {
	StudentID int64     `json:"student_id" db:"student_id"`
	Name      string    `json:"name" db:"name"`
	ClassID   int64     `json:"class_id" db:"class_id"`
	GradeYear string    `json:"grade_year" db:"grade_year"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
