package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
)

// StudentRepository handles persistence of course rosters and attendance.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// BulkAdd appends validated roster records to a course in one transaction.
func (r *StudentRepository) BulkAdd(ctx context.Context, courseID string, students []models.Student) error {
	if len(students) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin roster add: %w", err)
	}
	const query = `INSERT INTO students (id, course_id, name, email, attended, created_at, updated_at)
        VALUES (:id, :course_id, :name, :email, :attended, :created_at, :updated_at)`
	now := time.Now().UTC()
	for i := range students {
		students[i].ID = uuid.NewString()
		students[i].CourseID = courseID
		students[i].Attended = false
		students[i].CreatedAt = now
		students[i].UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, query, &students[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert roster student: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit roster add: %w", err)
	}
	return nil
}

// Add inserts a single student, used for ad-hoc additions during
// attendance taking.
func (r *StudentRepository) Add(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, course_id, name, email, attended, created_at, updated_at)
        VALUES (:id, :course_id, :name, :email, :attended, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// ListByCourse returns the roster for a course.
func (r *StudentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Student, error) {
	const query = `SELECT id, course_id, name, email, attended, created_at, updated_at
        FROM students WHERE course_id = $1 ORDER BY name`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, courseID); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// SetAttendance flips the attendance flag for a student of the given course.
// The course match guards against cross-course student IDs.
func (r *StudentRepository) SetAttendance(ctx context.Context, courseID, studentID string, attended bool) (bool, error) {
	const query = `UPDATE students SET attended = $3, updated_at = $4 WHERE id = $1 AND course_id = $2`
	res, err := r.db.ExecContext(ctx, query, studentID, courseID, attended, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("set attendance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set attendance rows: %w", err)
	}
	return rows > 0, nil
}

// AttendedCount returns the billable headcount for a course.
func (r *StudentRepository) AttendedCount(ctx context.Context, courseID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM students WHERE course_id = $1 AND attended`, courseID); err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return count, nil
}
