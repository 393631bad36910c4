package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/service"
	appErrors "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/errors"
	"github.com/Kaizenpbc/cpr-apr12-sub000/pkg/response"
)

// AttendanceHandler exposes course roster and attendance endpoints.
type AttendanceHandler struct {
	attendance *service.AttendanceService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// Roster godoc
// @Summary List a course roster
// @Tags Attendance
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/students [get]
func (h *AttendanceHandler) Roster(c *gin.Context) {
	students, err := h.attendance.Roster(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil)
}

// AddRoster godoc
// @Summary Bulk add students to a course roster
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.AddRosterRequest true "Roster payload"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/students [post]
func (h *AttendanceHandler) AddRoster(c *gin.Context) {
	var req service.AddRosterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	students, err := h.attendance.AddRoster(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, students)
}

// AddStudent godoc
// @Summary Add a single student to a course roster
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.RosterStudent true "Student payload"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/students/single [post]
func (h *AttendanceHandler) AddStudent(c *gin.Context) {
	var rec service.RosterStudent
	if err := c.ShouldBindJSON(&rec); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.attendance.AddStudent(c.Request.Context(), actorFromContext(c), c.Param("id"), rec)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// SetAttendance godoc
// @Summary Mark a student attended or absent
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param studentId path string true "Student ID"
// @Param payload body service.SetAttendanceRequest true "Attendance payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/students/{studentId}/attendance [put]
func (h *AttendanceHandler) SetAttendance(c *gin.Context) {
	var req service.SetAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	count, err := h.attendance.SetAttendance(c.Request.Context(), actorFromContext(c), c.Param("id"), c.Param("studentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"attendance_count": count}, nil)
}
