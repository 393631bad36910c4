package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/repository"
	appErrors "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/errors"
)

type mockCourseRepo struct {
	courses        map[string]*models.Course
	createErr      error
	created        []string
	scheduleOK     bool
	cancelOK       bool
	completeOK     bool
	billingErr     error
	conflict       bool
	lastNumberBase string
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course, numberBase string) error {
	if m.createErr != nil {
		return m.createErr
	}
	if m.courses == nil {
		m.courses = make(map[string]*models.Course)
	}
	if course.ID == "" {
		course.ID = "generated"
	}
	course.CourseNumber = numberBase
	course.Status = models.CourseStatusPending
	m.lastNumberBase = numberBase
	cp := *course
	m.courses[course.ID] = &cp
	m.created = append(m.created, course.ID)
	return nil
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	c, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.CourseDetail{Course: *c, OrganizationName: "Org", CourseTypeName: "CPR Basic"}, nil
}

func (m *mockCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	var out []models.CourseDetail
	for _, c := range m.courses {
		if filter.OrganizationID != "" && c.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.InstructorID != "" && (c.InstructorID == nil || *c.InstructorID != filter.InstructorID) {
			continue
		}
		out = append(out, models.CourseDetail{Course: *c})
	}
	return out, len(out), nil
}

func (m *mockCourseRepo) Schedule(ctx context.Context, id, instructorID string, scheduledDate time.Time) (bool, error) {
	if !m.scheduleOK {
		return false, nil
	}
	if c, ok := m.courses[id]; ok {
		c.Status = models.CourseStatusScheduled
		c.InstructorID = &instructorID
		c.ScheduledDate = &scheduledDate
	}
	return true, nil
}

func (m *mockCourseRepo) Cancel(ctx context.Context, id string) (bool, error) {
	if !m.cancelOK {
		return false, nil
	}
	if c, ok := m.courses[id]; ok {
		c.Status = models.CourseStatusCancelled
	}
	return true, nil
}

func (m *mockCourseRepo) Complete(ctx context.Context, id, instructorID string) (bool, error) {
	if !m.completeOK {
		return false, nil
	}
	if c, ok := m.courses[id]; ok {
		c.Status = models.CourseStatusCompleted
	}
	return true, nil
}

func (m *mockCourseRepo) MarkBillingReady(ctx context.Context, id string) error {
	if m.billingErr != nil {
		return m.billingErr
	}
	if c, ok := m.courses[id]; ok {
		c.Status = models.CourseStatusBillingReady
		return nil
	}
	return sql.ErrNoRows
}

func (m *mockCourseRepo) HasScheduleConflict(ctx context.Context, instructorID string, date time.Time, excludeCourseID string) (bool, error) {
	return m.conflict, nil
}

type mockOrgReader struct {
	orgs  map[string]*models.Organization
	types map[string]*models.CourseType
}

func (m *mockOrgReader) FindOrganizationByID(ctx context.Context, id string) (*models.Organization, error) {
	if o, ok := m.orgs[id]; ok {
		return o, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockOrgReader) FindCourseTypeByID(ctx context.Context, id string) (*models.CourseType, error) {
	if t, ok := m.types[id]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

type mockUserReader struct {
	users map[string]*models.User
}

func (m *mockUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

type recordingBroadcaster struct {
	targeted  map[string][]models.Event
	broadcast []models.Event
}

func (r *recordingBroadcaster) SendTo(userID string, event models.Event) {
	if r.targeted == nil {
		r.targeted = make(map[string][]models.Event)
	}
	r.targeted[userID] = append(r.targeted[userID], event)
}

func (r *recordingBroadcaster) Broadcast(event models.Event) {
	r.broadcast = append(r.broadcast, event)
}

func defaultOrgReader() *mockOrgReader {
	return &mockOrgReader{
		orgs:  map[string]*models.Organization{"org-1": {ID: "org-1", Code: "ACME", Name: "Acme Medical"}},
		types: map[string]*models.CourseType{"ct-1": {ID: "ct-1", Code: "CPRB", Name: "CPR Basic", Active: true}},
	}
}

func adminActor() models.Actor {
	return models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
}

func TestCourseServiceRequestBuildsCourseNumber(t *testing.T) {
	repo := &mockCourseRepo{}
	svc := NewCourseService(repo, defaultOrgReader(), &mockUserReader{}, nil, nil, validator.New(), zap.NewNop())

	requested := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	detail, err := svc.Request(context.Background(), adminActor(), RequestCourseRequest{
		OrganizationID:  "org-1",
		CourseTypeID:    "ct-1",
		RequestedDate:   requested,
		Location:        "Main Office",
		RegisteredCount: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "ACME-CPRB-20260315", repo.lastNumberBase)
	assert.Equal(t, models.CourseStatusPending, detail.Status)
}

func TestCourseServiceRequestForcesOrganizationScope(t *testing.T) {
	repo := &mockCourseRepo{}
	svc := NewCourseService(repo, defaultOrgReader(), &mockUserReader{}, nil, nil, validator.New(), zap.NewNop())

	actor := models.Actor{UserID: "u-1", Role: models.RoleOrganization, OrganizationID: "org-1"}
	detail, err := svc.Request(context.Background(), actor, RequestCourseRequest{
		OrganizationID: "org-other",
		CourseTypeID:   "ct-1",
		RequestedDate:  time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Location:       "Main Office",
	})
	require.NoError(t, err)
	assert.Equal(t, "org-1", detail.OrganizationID)
}

func TestCourseServiceRequestForbiddenRole(t *testing.T) {
	svc := NewCourseService(&mockCourseRepo{}, defaultOrgReader(), &mockUserReader{}, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.Request(context.Background(), models.Actor{UserID: "i-1", Role: models.RoleInstructor}, RequestCourseRequest{
		OrganizationID: "org-1",
		CourseTypeID:   "ct-1",
		RequestedDate:  time.Now(),
		Location:       "Main Office",
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestCourseServiceRequestNumberExhausted(t *testing.T) {
	repo := &mockCourseRepo{createErr: repository.ErrNumberExhausted}
	svc := NewCourseService(repo, defaultOrgReader(), &mockUserReader{}, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.Request(context.Background(), adminActor(), RequestCourseRequest{
		OrganizationID: "org-1",
		CourseTypeID:   "ct-1",
		RequestedDate:  time.Now(),
		Location:       "Main Office",
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrGenerationExhausted.Code, appErr.Code)
}

func TestCourseServiceScheduleNotifiesInstructor(t *testing.T) {
	repo := &mockCourseRepo{
		courses: map[string]*models.Course{
			"c-1": {ID: "c-1", CourseNumber: "ACME-CPRB-20260315", OrganizationID: "org-1", Status: models.CourseStatusPending},
		},
		scheduleOK: true,
	}
	users := &mockUserReader{users: map[string]*models.User{
		"i-1": {ID: "i-1", Role: models.RoleInstructor, Active: true},
	}}
	broadcaster := &recordingBroadcaster{}
	svc := NewCourseService(repo, defaultOrgReader(), users, broadcaster, nil, validator.New(), zap.NewNop())

	detail, err := svc.Schedule(context.Background(), adminActor(), "c-1", ScheduleCourseRequest{
		InstructorID:  "i-1",
		ScheduledDate: time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusScheduled, detail.Status)
	require.Len(t, broadcaster.targeted["i-1"], 1)
	assert.Equal(t, models.EventCourseAssigned, broadcaster.targeted["i-1"][0].Type)
	require.Len(t, broadcaster.broadcast, 1)
	assert.Equal(t, models.EventCourseStatusChanged, broadcaster.broadcast[0].Type)
}

func TestCourseServiceScheduleInstructorDoubleBooked(t *testing.T) {
	repo := &mockCourseRepo{
		courses: map[string]*models.Course{
			"c-1": {ID: "c-1", Status: models.CourseStatusPending},
		},
		conflict: true,
	}
	users := &mockUserReader{users: map[string]*models.User{
		"i-1": {ID: "i-1", Role: models.RoleInstructor, Active: true},
	}}
	svc := NewCourseService(repo, defaultOrgReader(), users, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.Schedule(context.Background(), adminActor(), "c-1", ScheduleCourseRequest{
		InstructorID:  "i-1",
		ScheduledDate: time.Now(),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceScheduleRejectsNonPending(t *testing.T) {
	repo := &mockCourseRepo{
		courses: map[string]*models.Course{
			"c-1": {ID: "c-1", Status: models.CourseStatusCompleted},
		},
	}
	users := &mockUserReader{users: map[string]*models.User{
		"i-1": {ID: "i-1", Role: models.RoleInstructor, Active: true},
	}}
	svc := NewCourseService(repo, defaultOrgReader(), users, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.Schedule(context.Background(), adminActor(), "c-1", ScheduleCourseRequest{
		InstructorID:  "i-1",
		ScheduledDate: time.Now(),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCancelInvoicedCourse(t *testing.T) {
	repo := &mockCourseRepo{
		courses: map[string]*models.Course{
			"c-1": {ID: "c-1", Status: models.CourseStatusInvoiced},
		},
		cancelOK: true,
	}
	svc := NewCourseService(repo, defaultOrgReader(), &mockUserReader{}, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.Cancel(context.Background(), adminActor(), "c-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCancelForbiddenForOrganization(t *testing.T) {
	repo := &mockCourseRepo{
		courses: map[string]*models.Course{
			"c-1": {ID: "c-1", OrganizationID: "org-1", Status: models.CourseStatusPending},
		},
		cancelOK: true,
	}
	svc := NewCourseService(repo, defaultOrgReader(), &mockUserReader{}, nil, nil, validator.New(), zap.NewNop())

	actor := models.Actor{UserID: "u-1", Role: models.RoleOrganization, OrganizationID: "org-1"}
	_, err := svc.Cancel(context.Background(), actor, "c-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.CourseStatusPending, repo.courses["c-1"].Status)
}

func TestCourseServiceCompleteOwnershipEnforced(t *testing.T) {
	other := "i-other"
	repo := &mockCourseRepo{
		courses: map[string]*models.Course{
			"c-1": {ID: "c-1", Status: models.CourseStatusScheduled, InstructorID: &other},
		},
		completeOK: true,
	}
	svc := NewCourseService(repo, defaultOrgReader(), &mockUserReader{}, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.Complete(context.Background(), models.Actor{UserID: "i-1", Role: models.RoleInstructor}, "c-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCompleteByAssignedInstructor(t *testing.T) {
	mine := "i-1"
	repo := &mockCourseRepo{
		courses: map[string]*models.Course{
			"c-1": {ID: "c-1", Status: models.CourseStatusScheduled, InstructorID: &mine},
		},
		completeOK: true,
	}
	svc := NewCourseService(repo, defaultOrgReader(), &mockUserReader{}, nil, nil, validator.New(), zap.NewNop())

	detail, err := svc.Complete(context.Background(), models.Actor{UserID: "i-1", Role: models.RoleInstructor}, "c-1")
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusCompleted, detail.Status)
}

func TestCourseServiceMarkBillingReadyMissingPricingRule(t *testing.T) {
	repo := &mockCourseRepo{billingErr: repository.ErrNoPricingRule}
	svc := NewCourseService(repo, defaultOrgReader(), &mockUserReader{}, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.MarkBillingReady(context.Background(), adminActor(), "c-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrMissingPricingRule.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "add one before")
}

func TestCourseServiceMarkBillingReadyWrongStatus(t *testing.T) {
	repo := &mockCourseRepo{billingErr: repository.ErrStatusConflict}
	svc := NewCourseService(repo, defaultOrgReader(), &mockUserReader{}, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.MarkBillingReady(context.Background(), adminActor(), "c-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceTransitionsFeedMetrics(t *testing.T) {
	repo := &mockCourseRepo{
		courses: map[string]*models.Course{
			"c-1": {ID: "c-1", CourseNumber: "ACME-CPRB-20260315", OrganizationID: "org-1", Status: models.CourseStatusPending},
		},
		scheduleOK: true,
	}
	users := &mockUserReader{users: map[string]*models.User{
		"i-1": {ID: "i-1", Role: models.RoleInstructor, Active: true},
	}}
	metrics := NewMetricsService(nil)
	svc := NewCourseService(repo, defaultOrgReader(), users, nil, metrics, validator.New(), zap.NewNop())

	_, err := svc.Schedule(context.Background(), adminActor(), "c-1", ScheduleCourseRequest{
		InstructorID:  "i-1",
		ScheduledDate: time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitionTotal.WithLabelValues(string(models.CourseStatusScheduled))))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.transitionTotal.WithLabelValues(string(models.CourseStatusCancelled))))
}

func TestCourseServiceListScopesInstructor(t *testing.T) {
	mine := "i-1"
	other := "i-2"
	repo := &mockCourseRepo{
		courses: map[string]*models.Course{
			"c-1": {ID: "c-1", Status: models.CourseStatusScheduled, InstructorID: &mine},
			"c-2": {ID: "c-2", Status: models.CourseStatusScheduled, InstructorID: &other},
		},
	}
	svc := NewCourseService(repo, defaultOrgReader(), &mockUserReader{}, nil, nil, validator.New(), zap.NewNop())

	courses, pagination, err := svc.List(context.Background(), models.Actor{UserID: "i-1", Role: models.RoleInstructor}, models.CourseFilter{})
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "c-1", courses[0].ID)
	assert.Equal(t, 1, pagination.TotalCount)
}

func TestCourseServiceGetScopesOrganization(t *testing.T) {
	repo := &mockCourseRepo{
		courses: map[string]*models.Course{
			"c-1": {ID: "c-1", OrganizationID: "org-2", Status: models.CourseStatusPending},
		},
	}
	svc := NewCourseService(repo, defaultOrgReader(), &mockUserReader{}, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.Get(context.Background(), models.Actor{UserID: "u-1", Role: models.RoleOrganization, OrganizationID: "org-1"}, "c-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
