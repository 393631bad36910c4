package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/hub"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/repository"
	appErrors "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/errors"
)

type courseRepository interface {
	Create(ctx context.Context, course *models.Course, numberBase string) error
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	Schedule(ctx context.Context, id, instructorID string, scheduledDate time.Time) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id, instructorID string) (bool, error)
	MarkBillingReady(ctx context.Context, id string) error
	HasScheduleConflict(ctx context.Context, instructorID string, date time.Time, excludeCourseID string) (bool, error)
}

type organizationReader interface {
	FindOrganizationByID(ctx context.Context, id string) (*models.Organization, error)
	FindCourseTypeByID(ctx context.Context, id string) (*models.CourseType, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// RequestCourseRequest describes a course request payload.
type RequestCourseRequest struct {
	OrganizationID  string    `json:"organization_id" validate:"required"`
	CourseTypeID    string    `json:"course_type_id" validate:"required"`
	RequestedDate   time.Time `json:"requested_date" validate:"required"`
	Location        string    `json:"location" validate:"required"`
	RegisteredCount int       `json:"registered_count" validate:"gte=0"`
	Notes           string    `json:"notes"`
}

// ScheduleCourseRequest assigns an instructor and date to a pending course.
type ScheduleCourseRequest struct {
	InstructorID  string    `json:"instructor_id" validate:"required"`
	ScheduledDate time.Time `json:"scheduled_date" validate:"required"`
}

// CourseService is the lifecycle state machine: it gates every transition on
// role, ownership and current status, persists it atomically and fans out
// the resulting events.
type CourseService struct {
	repo        courseRepository
	orgs        organizationReader
	users       userReader
	broadcaster hub.Broadcaster
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCourseService constructs CourseService. metrics may be nil.
func NewCourseService(repo courseRepository, orgs organizationReader, users userReader, broadcaster hub.Broadcaster, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, orgs: orgs, users: users, broadcaster: broadcaster, metrics: metrics, validator: validate, logger: logger}
}

// Get returns a course with display context. Organizations only see their
// own courses; instructors only see courses assigned to them.
func (s *CourseService) Get(ctx context.Context, actor models.Actor, id string) (*models.CourseDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	switch actor.Role {
	case models.RoleOrganization:
		if detail.OrganizationID != actor.OrganizationID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another organization")
		}
	case models.RoleInstructor:
		if detail.InstructorID == nil || *detail.InstructorID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "course is not assigned to you")
		}
	}
	return detail, nil
}

// List returns courses visible to the actor. Organizations only see their
// own; instructors only see courses assigned to them.
func (s *CourseService) List(ctx context.Context, actor models.Actor, filter models.CourseFilter) ([]models.CourseDetail, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleOrganization:
		filter.OrganizationID = actor.OrganizationID
	case models.RoleInstructor:
		filter.InstructorID = actor.UserID
	}
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return courses, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Request creates a course in Pending state with a fresh course number.
func (s *CourseService) Request(ctx context.Context, actor models.Actor, req RequestCourseRequest) (*models.CourseDetail, error) {
	if err := requireRoles(actor, models.RoleOrganization, models.RoleAdmin, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	if actor.Role == models.RoleOrganization {
		req.OrganizationID = actor.OrganizationID
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course request payload")
	}
	if len(req.Notes) > models.NotesMaxLength {
		return nil, appErrors.Clone(appErrors.ErrValidation, "notes exceed maximum length")
	}

	org, err := s.orgs.FindOrganizationByID(ctx, req.OrganizationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "organization not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load organization")
	}
	courseType, err := s.orgs.FindCourseTypeByID(ctx, req.CourseTypeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course type")
	}

	course := &models.Course{
		OrganizationID:  req.OrganizationID,
		CourseTypeID:    req.CourseTypeID,
		RequestedDate:   req.RequestedDate,
		Location:        req.Location,
		RegisteredCount: req.RegisteredCount,
		Notes:           req.Notes,
	}
	numberBase := fmt.Sprintf("%s-%s-%s", org.Code, courseType.Code, req.RequestedDate.Format("20060102"))
	if err := s.repo.Create(ctx, course, numberBase); err != nil {
		if errors.Is(err, repository.ErrNumberExhausted) {
			s.logger.Error("course number suffix space exhausted",
				zap.String("number_base", numberBase),
				zap.String("organization_id", req.OrganizationID))
			return nil, appErrors.ErrGenerationExhausted
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.metrics.RecordTransition(string(models.CourseStatusPending))
	return s.detail(ctx, course.ID)
}

// Schedule assigns an instructor and date to a pending course and notifies
// the newly assigned instructor.
func (s *CourseService) Schedule(ctx context.Context, actor models.Actor, courseID string, req ScheduleCourseRequest) (*models.CourseDetail, error) {
	if err := requireRoles(actor, models.RoleAdmin, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}

	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course.Status != models.CourseStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("course is %s, only a Pending course can be scheduled", course.Status))
	}

	instructor, err := s.users.FindByID(ctx, req.InstructorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}
	if instructor.Role != models.RoleInstructor {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assigned user is not an instructor")
	}
	if !instructor.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assigned instructor is inactive")
	}

	booked, err := s.repo.HasScheduleConflict(ctx, req.InstructorID, req.ScheduledDate, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check instructor availability")
	}
	if booked {
		return nil, appErrors.Clone(appErrors.ErrConflict, "instructor already has a course scheduled on that date")
	}

	ok, err := s.repo.Schedule(ctx, courseID, req.InstructorID, req.ScheduledDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule course")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course was modified concurrently, re-fetch and retry")
	}
	s.metrics.RecordTransition(string(models.CourseStatusScheduled))

	detail, err := s.detail(ctx, courseID)
	if err != nil {
		return nil, err
	}
	s.notify(detail, models.EventCourseStatusChanged)
	if s.broadcaster != nil {
		s.broadcaster.SendTo(req.InstructorID, models.NewEvent(models.EventCourseAssigned, map[string]interface{}{
			"course_id":      detail.ID,
			"course_number":  detail.CourseNumber,
			"scheduled_date": detail.ScheduledDate,
		}))
	}
	return detail, nil
}

// Cancel terminates a course that has not progressed past Scheduled.
func (s *CourseService) Cancel(ctx context.Context, actor models.Actor, courseID string) (*models.CourseDetail, error) {
	if err := requireRoles(actor, models.RoleAdmin, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(course.Status, models.CourseStatusCancelled) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("course is %s, only a Pending or Scheduled course can be cancelled", course.Status))
	}
	ok, err := s.repo.Cancel(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel course")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course was modified concurrently, re-fetch and retry")
	}
	s.metrics.RecordTransition(string(models.CourseStatusCancelled))
	detail, err := s.detail(ctx, courseID)
	if err != nil {
		return nil, err
	}
	s.notify(detail, models.EventCourseStatusChanged)
	return detail, nil
}

// Complete is restricted to the instructor assigned to the course.
func (s *CourseService) Complete(ctx context.Context, actor models.Actor, courseID string) (*models.CourseDetail, error) {
	if err := requireRoles(actor, models.RoleInstructor); err != nil {
		return nil, err
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course.InstructorID == nil || *course.InstructorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course is assigned to another instructor")
	}
	if course.Status != models.CourseStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("course is %s, only a Scheduled course can be completed", course.Status))
	}
	ok, err := s.repo.Complete(ctx, courseID, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete course")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course was modified concurrently, re-fetch and retry")
	}
	s.metrics.RecordTransition(string(models.CourseStatusCompleted))
	detail, err := s.detail(ctx, courseID)
	if err != nil {
		return nil, err
	}
	s.notify(detail, models.EventCourseStatusChanged)
	return detail, nil
}

// MarkBillingReady flips a completed course into the billing queue. The
// pricing rule must exist; its absence is a user-correctable condition, not a
// system failure.
func (s *CourseService) MarkBillingReady(ctx context.Context, actor models.Actor, courseID string) (*models.CourseDetail, error) {
	if err := requireRoles(actor, models.RoleAdmin, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	if err := s.repo.MarkBillingReady(ctx, courseID); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		case errors.Is(err, repository.ErrStatusConflict):
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only a Completed course can be marked billing ready")
		case errors.Is(err, repository.ErrNoPricingRule):
			return nil, appErrors.Clone(appErrors.ErrMissingPricingRule,
				"no pricing rule exists for this organization and course type - add one before marking billing ready")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark course billing ready")
		}
	}
	s.metrics.RecordTransition(string(models.CourseStatusBillingReady))
	detail, err := s.detail(ctx, courseID)
	if err != nil {
		return nil, err
	}
	s.notify(detail, models.EventCourseStatusChanged)
	return detail, nil
}

func (s *CourseService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *CourseService) detail(ctx context.Context, id string) (*models.CourseDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course detail")
	}
	return detail, nil
}

// notify pushes a broadcast status event. Push is a refresh hint only, so
// delivery happens after the write and is never part of the transaction.
func (s *CourseService) notify(detail *models.CourseDetail, eventType models.EventType) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Broadcast(models.NewEvent(eventType, map[string]interface{}{
		"course_id":     detail.ID,
		"course_number": detail.CourseNumber,
		"status":        detail.Status,
	}))
}
