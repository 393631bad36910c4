package models

import (
	"fmt"
	"time"
)

// CourseStatus represents the lifecycle position of a course.
type CourseStatus string

// Lifecycle statuses. Except for cancellation, a course only moves forward.
const (
	CourseStatusPending      CourseStatus = "PENDING"
	CourseStatusScheduled    CourseStatus = "SCHEDULED"
	CourseStatusCompleted    CourseStatus = "COMPLETED"
	CourseStatusBillingReady CourseStatus = "BILLING_READY"
	CourseStatusInvoiced     CourseStatus = "INVOICED"
	CourseStatusCancelled    CourseStatus = "CANCELLED"
)

// courseTransitions is the closed set of legal lifecycle edges.
var courseTransitions = map[CourseStatus][]CourseStatus{
	CourseStatusPending:      {CourseStatusScheduled, CourseStatusCancelled},
	CourseStatusScheduled:    {CourseStatusCompleted, CourseStatusCancelled},
	CourseStatusCompleted:    {CourseStatusBillingReady},
	CourseStatusBillingReady: {CourseStatusInvoiced},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to CourseStatus) bool {
	for _, next := range courseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseCourseStatus validates a raw status value at the API boundary.
func ParseCourseStatus(raw string) (CourseStatus, error) {
	switch CourseStatus(raw) {
	case CourseStatusPending, CourseStatusScheduled, CourseStatusCompleted,
		CourseStatusBillingReady, CourseStatusInvoiced, CourseStatusCancelled:
		return CourseStatus(raw), nil
	}
	return "", fmt.Errorf("unknown course status %q", raw)
}

// AttendanceOpen reports whether the status permits attendance taking.
// Edits racing an invoice creation are resolved by the in-transaction count.
func (s CourseStatus) AttendanceOpen() bool {
	switch s {
	case CourseStatusScheduled, CourseStatusCompleted, CourseStatusBillingReady:
		return true
	}
	return false
}

// NotesMaxLength bounds the free-text notes field.
const NotesMaxLength = 2000

// Course is a single training session requested by an organization.
// CourseNumber is assigned once at creation and never changes.
type Course struct {
	ID              string       `db:"id" json:"id"`
	CourseNumber    string       `db:"course_number" json:"course_number"`
	OrganizationID  string       `db:"organization_id" json:"organization_id"`
	CourseTypeID    string       `db:"course_type_id" json:"course_type_id"`
	InstructorID    *string      `db:"instructor_id" json:"instructor_id,omitempty"`
	RequestedDate   time.Time    `db:"requested_date" json:"requested_date"`
	ScheduledDate   *time.Time   `db:"scheduled_date" json:"scheduled_date,omitempty"`
	Location        string       `db:"location" json:"location"`
	RegisteredCount int          `db:"registered_count" json:"registered_count"`
	Notes           string       `db:"notes" json:"notes"`
	Status          CourseStatus `db:"status" json:"status"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// CourseDetail enriches Course with display names and the live headcount.
type CourseDetail struct {
	Course
	OrganizationName string  `db:"organization_name" json:"organization_name"`
	CourseTypeName   string  `db:"course_type_name" json:"course_type_name"`
	InstructorName   *string `db:"instructor_name" json:"instructor_name,omitempty"`
	AttendedCount    int     `db:"attended_count" json:"attended_count"`
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	OrganizationID string
	InstructorID   string
	Status         CourseStatus
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
