package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/novacal/novacal-api/internal/middleware"
	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/internal/service"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
	"github.com/novacal/novacal-api/pkg/response"
)

// AvailabilityHandler exposes slot computation and availability profiles.
type AvailabilityHandler struct {
	availability *service.AvailabilityService
	profiles     *service.AvailabilityProfileService
	types        *service.AppointmentTypeService
	metrics      *service.MetricsService
}

// NewAvailabilityHandler builds a new handler.
func NewAvailabilityHandler(availability *service.AvailabilityService, profiles *service.AvailabilityProfileService, types *service.AppointmentTypeService, metrics *service.MetricsService) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability, profiles: profiles, types: types, metrics: metrics}
}

// Slots godoc
// @Summary List bookable slots for an appointment type
// @Tags Availability
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param typeId path string true "Appointment type ID"
// @Param staff_id query string false "Staff member for single-host types"
// @Param from query string true "Range start (YYYY-MM-DD)"
// @Param to query string true "Range end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /public/{tenantId}/types/{typeId}/slots [get]
func (h *AvailabilityHandler) Slots(c *gin.Context) {
	tenantID := c.Param("tenantId")
	rng, err := parseDateRange(c.Query("from"), c.Query("to"))
	if err != nil {
		response.Error(c, err)
		return
	}

	at, err := h.types.Get(c.Request.Context(), tenantID, c.Param("typeId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	started := time.Now()
	if at.Category == models.EventCollective {
		slots, err := h.availability.ComputeCollectiveSlots(c.Request.Context(), tenantID, at, rng)
		if err != nil {
			response.Error(c, err)
			return
		}
		h.observe(started)
		response.JSON(c, http.StatusOK, slots, nil)
		return
	}

	slots, cached, err := h.availability.ComputeSlots(c.Request.Context(), tenantID, at, c.Query("staff_id"), rng, "")
	if err != nil {
		response.Error(c, err)
		return
	}
	h.observe(started)
	middleware.SetCacheHit(c, cached)
	response.JSON(c, http.StatusOK, slots, nil, middleware.ExtractMeta(c))
}

// UpsertProfile godoc
// @Summary Create or replace an availability profile
// @Tags Availability
// @Accept json
// @Produce json
// @Param payload body models.AvailabilityProfile true "Availability profile payload"
// @Success 200 {object} response.Envelope
// @Router /availability-profiles [put]
func (h *AvailabilityHandler) UpsertProfile(c *gin.Context) {
	var profile models.AvailabilityProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid availability profile payload"))
		return
	}
	profile.TenantID = tenantFromContext(c)
	saved, err := h.profiles.Upsert(c.Request.Context(), &profile)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, saved, nil)
}

// GetProfile godoc
// @Summary Get the availability profile of a staff member or type
// @Tags Availability
// @Produce json
// @Param ownerId path string true "Owner ID"
// @Param kind query string false "Owner kind (staff or type)" default(staff)
// @Success 200 {object} response.Envelope
// @Router /availability-profiles/{ownerId} [get]
func (h *AvailabilityHandler) GetProfile(c *gin.Context) {
	kind := models.ProfileOwnerKind(c.DefaultQuery("kind", string(models.OwnerStaff)))
	profile, err := h.profiles.Get(c.Request.Context(), tenantFromContext(c), c.Param("ownerId"), kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

func (h *AvailabilityHandler) observe(started time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveSlotComputation(time.Since(started))
	}
}

func parseDateRange(from, to string) (models.DateRange, error) {
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return models.DateRange{}, appErrors.Clone(appErrors.ErrValidation, "invalid from date, expected YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return models.DateRange{}, appErrors.Clone(appErrors.ErrValidation, "invalid to date, expected YYYY-MM-DD")
	}
	if end.Before(start) {
		return models.DateRange{}, appErrors.Clone(appErrors.ErrValidation, "date range end precedes start")
	}
	return models.DateRange{From: start, To: end}, nil
}
