package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/novacal/novacal-api/internal/service"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
	"github.com/novacal/novacal-api/pkg/response"
)

// GroupEventHandler manages attendees and waitlists of group appointments.
type GroupEventHandler struct {
	service *service.GroupEventService
}

// NewGroupEventHandler builds a new handler.
func NewGroupEventHandler(svc *service.GroupEventService) *GroupEventHandler {
	return &GroupEventHandler{service: svc}
}

type attendeeRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

// Register godoc
// @Summary Register an attendee on a group appointment
// @Tags GroupEvents
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param id path string true "Appointment ID"
// @Param payload body attendeeRequest true "Attendee payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /public/{tenantId}/appointments/{id}/attendees [post]
func (h *GroupEventHandler) Register(c *gin.Context) {
	var req attendeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendee payload"))
		return
	}
	result, err := h.service.Register(c.Request.Context(), c.Param("tenantId"), c.Param("id"), req.Name, req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Confirm godoc
// @Summary Confirm a registered attendee
// @Tags GroupEvents
// @Produce json
// @Param id path string true "Appointment ID"
// @Param email query string true "Attendee email"
// @Success 204
// @Router /appointments/{id}/attendees/confirm [post]
func (h *GroupEventHandler) Confirm(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "attendee email is required"))
		return
	}
	if err := h.service.ConfirmAttendee(c.Request.Context(), tenantFromContext(c), c.Param("id"), email); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Cancel godoc
// @Summary Cancel an attendee, promoting from the waitlist when possible
// @Tags GroupEvents
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param id path string true "Appointment ID"
// @Param email query string true "Attendee email"
// @Success 200 {object} response.Envelope
// @Router /public/{tenantId}/appointments/{id}/attendees [delete]
func (h *GroupEventHandler) Cancel(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "attendee email is required"))
		return
	}
	promoted, err := h.service.CancelAttendee(c.Request.Context(), c.Param("tenantId"), c.Param("id"), email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"promoted": promoted}, nil)
}

// Roster godoc
// @Summary List attendees and the waitlist of a group appointment
// @Tags GroupEvents
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id}/attendees [get]
func (h *GroupEventHandler) Roster(c *gin.Context) {
	attendees, waiting, err := h.service.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"attendees": attendees, "waitlist": waiting}, nil)
}
