package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/hub"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
	appErrors "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/errors"
)

type studentRepository interface {
	BulkAdd(ctx context.Context, courseID string, students []models.Student) error
	Add(ctx context.Context, student *models.Student) error
	ListByCourse(ctx context.Context, courseID string) ([]models.Student, error)
	SetAttendance(ctx context.Context, courseID, studentID string, attended bool) (bool, error)
	AttendedCount(ctx context.Context, courseID string) (int, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// RosterStudent is a validated roster record from the roster collaborator.
type RosterStudent struct {
	Name  string  `json:"name" validate:"required"`
	Email *string `json:"email" validate:"omitempty,email"`
}

// AddRosterRequest uploads roster records to a course.
type AddRosterRequest struct {
	Students []RosterStudent `json:"students" validate:"required,min=1,dive"`
}

// SetAttendanceRequest toggles a student's attendance flag.
type SetAttendanceRequest struct {
	Attended bool `json:"attended"`
}

// AttendanceService maintains course rosters and attendance flags, the
// source of the billable headcount.
type AttendanceService struct {
	students    studentRepository
	courses     courseReader
	broadcaster hub.Broadcaster
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAttendanceService constructs AttendanceService.
func NewAttendanceService(students studentRepository, courses courseReader, broadcaster hub.Broadcaster, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{students: students, courses: courses, broadcaster: broadcaster, validator: validate, logger: logger}
}

// Roster returns the students registered on a course.
func (s *AttendanceService) Roster(ctx context.Context, actor models.Actor, courseID string) ([]models.Student, error) {
	if _, err := s.authorizeCourseAccess(ctx, actor, courseID); err != nil {
		return nil, err
	}
	students, err := s.students.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roster")
	}
	return students, nil
}

// AddRoster appends validated roster records to a course.
func (s *AttendanceService) AddRoster(ctx context.Context, actor models.Actor, courseID string, req AddRosterRequest) ([]models.Student, error) {
	if err := requireRoles(actor, models.RoleOrganization, models.RoleAdmin, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid roster payload")
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleOrganization && course.OrganizationID != actor.OrganizationID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another organization")
	}
	if course.Status == models.CourseStatusInvoiced || course.Status == models.CourseStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "roster is closed for this course")
	}

	students := make([]models.Student, len(req.Students))
	for i, rec := range req.Students {
		students[i] = models.Student{Name: rec.Name, Email: rec.Email}
	}
	if err := s.students.BulkAdd(ctx, courseID, students); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add roster")
	}
	return students, nil
}

// AddStudent registers a single walk-in student during attendance taking.
func (s *AttendanceService) AddStudent(ctx context.Context, actor models.Actor, courseID string, rec RosterStudent) (*models.Student, error) {
	if err := requireRoles(actor, models.RoleInstructor, models.RoleAdmin, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(rec); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleInstructor {
		if course.InstructorID == nil || *course.InstructorID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "course is assigned to another instructor")
		}
	}
	if !course.Status.AttendanceOpen() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "course status does not permit roster changes")
	}

	student := &models.Student{CourseID: courseID, Name: rec.Name, Email: rec.Email}
	if err := s.students.Add(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add student")
	}
	return student, nil
}

// SetAttendance flips a student's attendance flag and broadcasts the fresh
// headcount to every connected dashboard. An edit landing after the billing
// transaction's count read is intentionally not reflected in the invoice.
func (s *AttendanceService) SetAttendance(ctx context.Context, actor models.Actor, courseID, studentID string, req SetAttendanceRequest) (int, error) {
	if err := requireRoles(actor, models.RoleInstructor, models.RoleAdmin, models.RoleSuperAdmin); err != nil {
		return 0, err
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return 0, err
	}
	if actor.Role == models.RoleInstructor {
		if course.InstructorID == nil || *course.InstructorID != actor.UserID {
			return 0, appErrors.Clone(appErrors.ErrForbidden, "course is assigned to another instructor")
		}
	}
	if !course.Status.AttendanceOpen() {
		return 0, appErrors.Clone(appErrors.ErrInvalidTransition, "course status does not permit attendance taking")
	}

	ok, err := s.students.SetAttendance(ctx, courseID, studentID, req.Attended)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set attendance")
	}
	if !ok {
		return 0, appErrors.Clone(appErrors.ErrNotFound, "student not found on this course")
	}

	count, err := s.students.AttendedCount(ctx, courseID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attendance")
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(models.NewEvent(models.EventAttendanceUpdated, map[string]interface{}{
			"course_id":        courseID,
			"attendance_count": count,
		}))
	}
	return count, nil
}

func (s *AttendanceService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// authorizeCourseAccess allows reads by any staff role, the owning
// organization or the assigned instructor.
func (s *AttendanceService) authorizeCourseAccess(ctx context.Context, actor models.Actor, courseID string) (*models.Course, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleAdmin, models.RoleSuperAdmin, models.RoleAccounting:
		return course, nil
	case models.RoleOrganization:
		if course.OrganizationID == actor.OrganizationID {
			return course, nil
		}
	case models.RoleInstructor:
		if course.InstructorID != nil && *course.InstructorID == actor.UserID {
			return course, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrForbidden, "not permitted to view this course")
}
