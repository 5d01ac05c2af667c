package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/internal/service"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
	"github.com/novacal/novacal-api/pkg/response"
)

// BookingHandler exposes appointment booking and lifecycle endpoints.
type BookingHandler struct {
	bookings *service.BookingService
	metrics  *service.MetricsService
}

// NewBookingHandler builds a new handler.
func NewBookingHandler(bookings *service.BookingService, metrics *service.MetricsService) *BookingHandler {
	return &BookingHandler{bookings: bookings, metrics: metrics}
}

type bookRequest struct {
	TypeID         string               `json:"type_id" binding:"required"`
	Start          time.Time            `json:"start" binding:"required"`
	InviteeName    string               `json:"invitee_name" binding:"required"`
	InviteeEmail   string               `json:"invitee_email" binding:"required,email"`
	IntakeAnswers  models.IntakeAnswers `json:"intake_answers"`
	AccountOwnerID string               `json:"account_owner_id"`
}

type transitionRequest struct {
	Reason string `json:"reason"`
}

type substituteRequest struct {
	OldHostID string `json:"old_host_id" binding:"required"`
	NewHostID string `json:"new_host_id" binding:"required"`
}

// Book godoc
// @Summary Book an appointment
// @Tags Bookings
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param payload body bookRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /public/{tenantId}/bookings [post]
func (h *BookingHandler) Book(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid booking payload"))
		return
	}

	appt, err := h.bookings.Book(c.Request.Context(), service.BookingRequest{
		TenantID:       c.Param("tenantId"),
		TypeID:         req.TypeID,
		Start:          req.Start,
		InviteeName:    req.InviteeName,
		InviteeEmail:   req.InviteeEmail,
		IntakeAnswers:  req.IntakeAnswers,
		AccountOwnerID: req.AccountOwnerID,
	})
	if err != nil {
		h.observeBooking(err)
		response.Error(c, err)
		return
	}
	h.observeBookingStatus(appt.Status)
	response.Created(c, appt)
}

// Get godoc
// @Summary Get appointment
// @Tags Bookings
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id} [get]
func (h *BookingHandler) Get(c *gin.Context) {
	appt, err := h.bookings.Get(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appt, nil)
}

// List godoc
// @Summary List appointments
// @Tags Bookings
// @Produce json
// @Param staff_id query string false "Filter by staff member"
// @Param status query string false "Filter by status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /appointments [get]
func (h *BookingHandler) List(c *gin.Context) {
	filter := models.AppointmentFilter{
		TenantID: tenantFromContext(c),
		StaffID:  c.Query("staff_id"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	if status := c.Query("status"); status != "" {
		filter.Statuses = []models.AppointmentStatus{models.AppointmentStatus(status)}
	}
	if from := c.Query("from"); from != "" {
		if ts, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = &ts
		}
	}
	if to := c.Query("to"); to != "" {
		if ts, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &ts
		}
	}

	appts, total, err := h.bookings.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appts, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Confirm godoc
// @Summary Confirm a requested appointment
// @Tags Bookings
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id}/confirm [post]
func (h *BookingHandler) Confirm(c *gin.Context) {
	appt, err := h.bookings.Confirm(c.Request.Context(), tenantFromContext(c), c.Param("id"), actorFromContext(c))
	h.respondTransition(c, appt, err)
}

// Cancel godoc
// @Summary Cancel an appointment
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Appointment ID"
// @Param payload body transitionRequest false "Cancellation reason"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id}/cancel [post]
func (h *BookingHandler) Cancel(c *gin.Context) {
	var req transitionRequest
	_ = c.ShouldBindJSON(&req)
	appt, err := h.bookings.Cancel(c.Request.Context(), tenantFromContext(c), c.Param("id"), req.Reason, actorFromContext(c))
	h.respondTransition(c, appt, err)
}

// Reject godoc
// @Summary Reject a requested appointment
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Appointment ID"
// @Param payload body transitionRequest false "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id}/reject [post]
func (h *BookingHandler) Reject(c *gin.Context) {
	var req transitionRequest
	_ = c.ShouldBindJSON(&req)
	appt, err := h.bookings.Reject(c.Request.Context(), tenantFromContext(c), c.Param("id"), req.Reason, actorFromContext(c))
	h.respondTransition(c, appt, err)
}

// Complete godoc
// @Summary Mark an appointment completed
// @Tags Bookings
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id}/complete [post]
func (h *BookingHandler) Complete(c *gin.Context) {
	appt, err := h.bookings.Complete(c.Request.Context(), tenantFromContext(c), c.Param("id"), actorFromContext(c))
	h.respondTransition(c, appt, err)
}

// MarkNoShow godoc
// @Summary Mark an appointment as a no-show
// @Tags Bookings
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id}/no-show [post]
func (h *BookingHandler) MarkNoShow(c *gin.Context) {
	appt, err := h.bookings.MarkNoShow(c.Request.Context(), tenantFromContext(c), c.Param("id"), actorFromContext(c))
	h.respondTransition(c, appt, err)
}

// SubstituteHost godoc
// @Summary Substitute one host of a collective appointment
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Appointment ID"
// @Param payload body substituteRequest true "Host substitution payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appointments/{id}/substitute-host [post]
func (h *BookingHandler) SubstituteHost(c *gin.Context) {
	var req substituteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid substitution payload"))
		return
	}
	appt, err := h.bookings.SubstituteHost(c.Request.Context(), tenantFromContext(c), c.Param("id"), req.OldHostID, req.NewHostID, actorFromContext(c))
	h.respondTransition(c, appt, err)
}

// History godoc
// @Summary List the status history of an appointment
// @Tags Bookings
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id}/history [get]
func (h *BookingHandler) History(c *gin.Context) {
	history, err := h.bookings.History(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

func (h *BookingHandler) respondTransition(c *gin.Context, appt *models.Appointment, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appt, nil)
}

func (h *BookingHandler) observeBooking(err error) {
	if h.metrics == nil {
		return
	}
	if appErrors.Is(err, appErrors.ErrConflict) {
		h.metrics.ObserveBooking("conflict")
		return
	}
	h.metrics.ObserveBooking("error")
}

func (h *BookingHandler) observeBookingStatus(status models.AppointmentStatus) {
	if h.metrics == nil {
		return
	}
	h.metrics.ObserveBooking(string(status))
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
