package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
	appErrors "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/errors"
)

type mockStudentRepo struct {
	students map[string][]models.Student
	setOK    bool
}

func (m *mockStudentRepo) BulkAdd(ctx context.Context, courseID string, students []models.Student) error {
	if m.students == nil {
		m.students = make(map[string][]models.Student)
	}
	m.students[courseID] = append(m.students[courseID], students...)
	return nil
}

func (m *mockStudentRepo) Add(ctx context.Context, student *models.Student) error {
	if m.students == nil {
		m.students = make(map[string][]models.Student)
	}
	student.ID = "s-new"
	m.students[student.CourseID] = append(m.students[student.CourseID], *student)
	return nil
}

func (m *mockStudentRepo) ListByCourse(ctx context.Context, courseID string) ([]models.Student, error) {
	return m.students[courseID], nil
}

func (m *mockStudentRepo) SetAttendance(ctx context.Context, courseID, studentID string, attended bool) (bool, error) {
	if !m.setOK {
		return false, nil
	}
	for i, s := range m.students[courseID] {
		if s.ID == studentID {
			m.students[courseID][i].Attended = attended
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStudentRepo) AttendedCount(ctx context.Context, courseID string) (int, error) {
	count := 0
	for _, s := range m.students[courseID] {
		if s.Attended {
			count++
		}
	}
	return count, nil
}

func courseFixture(status models.CourseStatus, instructorID string) *mockCourseRepo {
	c := &models.Course{ID: "c-1", OrganizationID: "org-1", Status: status}
	if instructorID != "" {
		c.InstructorID = &instructorID
	}
	return &mockCourseRepo{courses: map[string]*models.Course{"c-1": c}}
}

func TestAttendanceServiceAddRoster(t *testing.T) {
	students := &mockStudentRepo{}
	svc := NewAttendanceService(students, courseFixture(models.CourseStatusScheduled, ""), nil, validator.New(), zap.NewNop())

	actor := models.Actor{UserID: "u-1", Role: models.RoleOrganization, OrganizationID: "org-1"}
	added, err := svc.AddRoster(context.Background(), actor, "c-1", AddRosterRequest{
		Students: []RosterStudent{{Name: "Pat Doe"}, {Name: "Sam Roe"}},
	})
	require.NoError(t, err)
	assert.Len(t, added, 2)
	assert.Len(t, students.students["c-1"], 2)
}

func TestAttendanceServiceAddRosterClosedAfterInvoice(t *testing.T) {
	svc := NewAttendanceService(&mockStudentRepo{}, courseFixture(models.CourseStatusInvoiced, ""), nil, validator.New(), zap.NewNop())

	actor := models.Actor{UserID: "u-1", Role: models.RoleOrganization, OrganizationID: "org-1"}
	_, err := svc.AddRoster(context.Background(), actor, "c-1", AddRosterRequest{
		Students: []RosterStudent{{Name: "Pat Doe"}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceAddRosterForeignOrganization(t *testing.T) {
	svc := NewAttendanceService(&mockStudentRepo{}, courseFixture(models.CourseStatusScheduled, ""), nil, validator.New(), zap.NewNop())

	actor := models.Actor{UserID: "u-1", Role: models.RoleOrganization, OrganizationID: "org-other"}
	_, err := svc.AddRoster(context.Background(), actor, "c-1", AddRosterRequest{
		Students: []RosterStudent{{Name: "Pat Doe"}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceSetAttendanceBroadcastsCount(t *testing.T) {
	students := &mockStudentRepo{
		students: map[string][]models.Student{"c-1": {
			{ID: "s-1", CourseID: "c-1"},
			{ID: "s-2", CourseID: "c-1", Attended: true},
		}},
		setOK: true,
	}
	broadcaster := &recordingBroadcaster{}
	svc := NewAttendanceService(students, courseFixture(models.CourseStatusCompleted, "i-1"), broadcaster, validator.New(), zap.NewNop())

	actor := models.Actor{UserID: "i-1", Role: models.RoleInstructor}
	count, err := svc.SetAttendance(context.Background(), actor, "c-1", "s-1", SetAttendanceRequest{Attended: true})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.Len(t, broadcaster.broadcast, 1)
	assert.Equal(t, models.EventAttendanceUpdated, broadcaster.broadcast[0].Type)
	assert.Equal(t, 2, broadcaster.broadcast[0].Payload["attendance_count"])
}

func TestAttendanceServiceSetAttendanceClosedStatus(t *testing.T) {
	svc := NewAttendanceService(&mockStudentRepo{setOK: true}, courseFixture(models.CourseStatusInvoiced, "i-1"), nil, validator.New(), zap.NewNop())

	actor := models.Actor{UserID: "i-1", Role: models.RoleInstructor}
	_, err := svc.SetAttendance(context.Background(), actor, "c-1", "s-1", SetAttendanceRequest{Attended: true})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceSetAttendanceWrongInstructor(t *testing.T) {
	svc := NewAttendanceService(&mockStudentRepo{setOK: true}, courseFixture(models.CourseStatusScheduled, "i-other"), nil, validator.New(), zap.NewNop())

	actor := models.Actor{UserID: "i-1", Role: models.RoleInstructor}
	_, err := svc.SetAttendance(context.Background(), actor, "c-1", "s-1", SetAttendanceRequest{Attended: true})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceSetAttendanceUnknownStudent(t *testing.T) {
	svc := NewAttendanceService(&mockStudentRepo{setOK: true}, courseFixture(models.CourseStatusScheduled, "i-1"), nil, validator.New(), zap.NewNop())

	actor := models.Actor{UserID: "i-1", Role: models.RoleInstructor}
	_, err := svc.SetAttendance(context.Background(), actor, "c-1", "missing", SetAttendanceRequest{Attended: true})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceRosterVisibility(t *testing.T) {
	students := &mockStudentRepo{students: map[string][]models.Student{"c-1": {{ID: "s-1"}}}}
	svc := NewAttendanceService(students, courseFixture(models.CourseStatusScheduled, "i-1"), nil, validator.New(), zap.NewNop())

	_, err := svc.Roster(context.Background(), models.Actor{UserID: "i-other", Role: models.RoleInstructor}, "c-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	roster, err := svc.Roster(context.Background(), models.Actor{UserID: "acct-1", Role: models.RoleAccounting}, "c-1")
	require.NoError(t, err)
	assert.Len(t, roster, 1)
}
