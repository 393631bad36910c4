package models

import "time"

// Student is a roster entry belonging to exactly one course. The attendance
// flag is the sole billable quantity.
type Student struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	Name      string    `db:"name" json:"name"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Attended  bool      `db:"attended" json:"attended"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
