package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/internal/service"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
	"github.com/novacal/novacal-api/pkg/response"
)

// AppointmentTypeHandler exposes appointment type management endpoints.
type AppointmentTypeHandler struct {
	service *service.AppointmentTypeService
}

// NewAppointmentTypeHandler builds a new handler.
func NewAppointmentTypeHandler(svc *service.AppointmentTypeService) *AppointmentTypeHandler {
	return &AppointmentTypeHandler{service: svc}
}

// Create godoc
// @Summary Create appointment type
// @Tags AppointmentTypes
// @Accept json
// @Produce json
// @Param payload body models.AppointmentType true "Appointment type payload"
// @Success 201 {object} response.Envelope
// @Router /appointment-types [post]
func (h *AppointmentTypeHandler) Create(c *gin.Context) {
	var at models.AppointmentType
	if err := c.ShouldBindJSON(&at); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid appointment type payload"))
		return
	}
	at.TenantID = tenantFromContext(c)
	created, err := h.service.Create(c.Request.Context(), &at)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Get godoc
// @Summary Get appointment type
// @Tags AppointmentTypes
// @Produce json
// @Param id path string true "Appointment type ID"
// @Success 200 {object} response.Envelope
// @Router /appointment-types/{id} [get]
func (h *AppointmentTypeHandler) Get(c *gin.Context) {
	at, err := h.service.Get(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, at, nil)
}

// List godoc
// @Summary List appointment types
// @Tags AppointmentTypes
// @Produce json
// @Param active query bool false "Only active types"
// @Success 200 {object} response.Envelope
// @Router /appointment-types [get]
func (h *AppointmentTypeHandler) List(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	types, err := h.service.List(c.Request.Context(), tenantFromContext(c), activeOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, types, nil)
}

// Update godoc
// @Summary Update appointment type
// @Tags AppointmentTypes
// @Accept json
// @Produce json
// @Param id path string true "Appointment type ID"
// @Param payload body models.AppointmentType true "Appointment type payload"
// @Success 200 {object} response.Envelope
// @Router /appointment-types/{id} [put]
func (h *AppointmentTypeHandler) Update(c *gin.Context) {
	var at models.AppointmentType
	if err := c.ShouldBindJSON(&at); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid appointment type payload"))
		return
	}
	at.ID = c.Param("id")
	at.TenantID = tenantFromContext(c)
	updated, err := h.service.Update(c.Request.Context(), &at)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// Deactivate godoc
// @Summary Deactivate appointment type
// @Tags AppointmentTypes
// @Param id path string true "Appointment type ID"
// @Success 204
// @Router /appointment-types/{id} [delete]
func (h *AppointmentTypeHandler) Deactivate(c *gin.Context) {
	if err := h.service.Deactivate(c.Request.Context(), tenantFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
