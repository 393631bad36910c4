package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
)

const courseNumberConstraint = "courses_course_number_key"

// courseNumberProbes bounds the suffix space: base, base-1 … base-99.
const courseNumberProbes = 100

// CourseRepository handles persistence of courses and their lifecycle state.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// Create persists a new course, assigning the first free course number
// derived from numberBase. Uniqueness races are resolved by retrying the
// insert on the next suffix, so two concurrent requests for the same
// organization, course type and day end up with BASE and BASE-1.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course, numberBase string) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now
	course.Status = models.CourseStatusPending

	const query = `INSERT INTO courses (id, course_number, organization_id, course_type_id, instructor_id,
        requested_date, scheduled_date, location, registered_count, notes, status, created_at, updated_at)
        VALUES (:id, :course_number, :organization_id, :course_type_id, :instructor_id,
        :requested_date, :scheduled_date, :location, :registered_count, :notes, :status, :created_at, :updated_at)`

	for i := 0; i < courseNumberProbes; i++ {
		candidate := numberBase
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", numberBase, i)
		}
		course.CourseNumber = candidate
		_, err := r.db.NamedExecContext(ctx, query, course)
		if err == nil {
			return nil
		}
		if isUniqueViolation(err, courseNumberConstraint) {
			continue
		}
		return fmt.Errorf("create course: %w", err)
	}
	return ErrNumberExhausted
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, course_number, organization_id, course_type_id, instructor_id,
        requested_date, scheduled_date, location, registered_count, notes, status, created_at, updated_at
        FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

const courseDetailColumns = `c.id, c.course_number, c.organization_id, c.course_type_id, c.instructor_id,
        c.requested_date, c.scheduled_date, c.location, c.registered_count, c.notes, c.status, c.created_at, c.updated_at,
        o.name AS organization_name, ct.name AS course_type_name, u.full_name AS instructor_name,
        (SELECT COUNT(*) FROM students s WHERE s.course_id = c.id AND s.attended) AS attended_count`

const courseDetailFrom = `FROM courses c
JOIN organizations o ON o.id = c.organization_id
JOIN course_types ct ON ct.id = c.course_type_id
LEFT JOIN users u ON u.id = c.instructor_id`

// FindDetailByID returns a course with display names and live headcount.
func (r *CourseRepository) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE c.id = $1", courseDetailColumns, courseDetailFrom)
	var detail models.CourseDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.OrganizationID != "" {
		conditions = append(conditions, fmt.Sprintf("c.organization_id = $%d", len(args)+1))
		args = append(args, filter.OrganizationID)
	}
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("c.instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("c.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"requested_date": "c.requested_date",
		"scheduled_date": "c.scheduled_date",
		"course_number":  "c.course_number",
		"status":         "c.status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.requested_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s%s ORDER BY %s %s LIMIT %d OFFSET %d",
		courseDetailColumns, courseDetailFrom, clause, orderBy, order, size, offset)

	var courses []models.CourseDetail
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", courseDetailFrom, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// Schedule assigns an instructor and date to a pending course. The status
// precondition is enforced in the same statement, so a concurrent transition
// makes this a no-op and the caller observes the lost race.
func (r *CourseRepository) Schedule(ctx context.Context, id, instructorID string, scheduledDate time.Time) (bool, error) {
	const query = `UPDATE courses SET instructor_id = $2, scheduled_date = $3, status = $4, updated_at = $5
        WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, id, instructorID, scheduledDate,
		models.CourseStatusScheduled, time.Now().UTC(), models.CourseStatusPending)
	if err != nil {
		return false, fmt.Errorf("schedule course: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("schedule course rows: %w", err)
	}
	return rows > 0, nil
}

// Cancel marks a course cancelled while it is still Pending or Scheduled.
func (r *CourseRepository) Cancel(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE courses SET status = $2, updated_at = $3
        WHERE id = $1 AND status IN ($4, $5)`
	res, err := r.db.ExecContext(ctx, query, id, models.CourseStatusCancelled, time.Now().UTC(),
		models.CourseStatusPending, models.CourseStatusScheduled)
	if err != nil {
		return false, fmt.Errorf("cancel course: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel course rows: %w", err)
	}
	return rows > 0, nil
}

// Complete marks a scheduled course completed. The instructor match is part
// of the statement so only the assigned instructor can complete it.
func (r *CourseRepository) Complete(ctx context.Context, id, instructorID string) (bool, error) {
	const query = `UPDATE courses SET status = $3, updated_at = $4
        WHERE id = $1 AND instructor_id = $2 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, instructorID,
		models.CourseStatusCompleted, time.Now().UTC(), models.CourseStatusScheduled)
	if err != nil {
		return false, fmt.Errorf("complete course: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete course rows: %w", err)
	}
	return rows > 0, nil
}

// MarkBillingReady flips a completed course to BillingReady. The pricing rule
// existence check runs inside the same transaction that performs the write,
// closing the race between check and act. Returns sql.ErrNoRows when the
// course does not exist, ErrStatusConflict when it is not Completed, and
// ErrNoPricingRule when no rule covers the pair.
func (r *CourseRepository) MarkBillingReady(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark billing ready: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var course struct {
		Status         models.CourseStatus `db:"status"`
		OrganizationID string              `db:"organization_id"`
		CourseTypeID   string              `db:"course_type_id"`
	}
	if err := tx.GetContext(ctx, &course,
		`SELECT status, organization_id, course_type_id FROM courses WHERE id = $1 FOR UPDATE`, id); err != nil {
		return err
	}
	if course.Status != models.CourseStatusCompleted {
		return ErrStatusConflict
	}

	var exists int
	err = tx.GetContext(ctx, &exists,
		`SELECT 1 FROM pricing_rules WHERE organization_id = $1 AND course_type_id = $2`,
		course.OrganizationID, course.CourseTypeID)
	if err == sql.ErrNoRows {
		return ErrNoPricingRule
	}
	if err != nil {
		return fmt.Errorf("check pricing rule: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE courses SET status = $2, updated_at = $3 WHERE id = $1`,
		id, models.CourseStatusBillingReady, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark billing ready: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark billing ready: %w", err)
	}
	return nil
}

// HasScheduleConflict reports whether the instructor already has another
// course scheduled on the same calendar day.
func (r *CourseRepository) HasScheduleConflict(ctx context.Context, instructorID string, date time.Time, excludeCourseID string) (bool, error) {
	const query = `SELECT 1 FROM courses
        WHERE instructor_id = $1 AND scheduled_date::date = $2::date AND status = $3 AND id <> $4 LIMIT 1`
	var exists int
	err := r.db.GetContext(ctx, &exists, query, instructorID, date, models.CourseStatusScheduled, excludeCourseID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check schedule conflict: %w", err)
	}
	return true, nil
}
