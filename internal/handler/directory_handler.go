package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/service"
	"github.com/Kaizenpbc/cpr-apr12-sub000/pkg/response"
)

// DirectoryHandler exposes reference data endpoints.
type DirectoryHandler struct {
	directory *service.DirectoryService
}

// NewDirectoryHandler constructs DirectoryHandler.
func NewDirectoryHandler(directory *service.DirectoryService) *DirectoryHandler {
	return &DirectoryHandler{directory: directory}
}

// Organizations godoc
// @Summary List organizations
// @Tags Directory
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /organizations [get]
func (h *DirectoryHandler) Organizations(c *gin.Context) {
	orgs, err := h.directory.Organizations(c.Request.Context(), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, orgs, nil)
}

// CourseTypes godoc
// @Summary List active course types
// @Tags Directory
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /course-types [get]
func (h *DirectoryHandler) CourseTypes(c *gin.Context) {
	types, err := h.directory.CourseTypes(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, types, nil)
}
