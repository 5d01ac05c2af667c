package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/novacal/novacal-api/internal/service"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
	"github.com/novacal/novacal-api/pkg/response"
)

// BookingLinkHandler manages shareable booking links.
type BookingLinkHandler struct {
	service *service.BookingLinkService
}

// NewBookingLinkHandler builds a new handler.
func NewBookingLinkHandler(svc *service.BookingLinkService) *BookingLinkHandler {
	return &BookingLinkHandler{service: svc}
}

type resolveLinkRequest struct {
	Token        string `json:"token"`
	Password     string `json:"password"`
	InviteeEmail string `json:"invitee_email"`
}

// Create godoc
// @Summary Create booking link
// @Tags BookingLinks
// @Accept json
// @Produce json
// @Param payload body service.CreateLinkRequest true "Booking link payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /booking-links [post]
func (h *BookingLinkHandler) Create(c *gin.Context) {
	var req service.CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid booking link payload"))
		return
	}
	req.TenantID = tenantFromContext(c)
	link, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, link)
}

// Resolve godoc
// @Summary Resolve a booking link into its bookable surface
// @Description Password and token checks run server-side; direct-only links
// @Description resolve by token only.
// @Tags BookingLinks
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param slug path string true "Link slug or token"
// @Param payload body resolveLinkRequest false "Link credentials"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /public/{tenantId}/links/{slug} [post]
func (h *BookingLinkHandler) Resolve(c *gin.Context) {
	var req resolveLinkRequest
	_ = c.ShouldBindJSON(&req)

	resolved, err := h.service.Resolve(c.Request.Context(), &service.ResolveLinkRequest{
		TenantID:     c.Param("tenantId"),
		Slug:         c.Param("slug"),
		Token:        req.Token,
		Password:     req.Password,
		InviteeEmail: req.InviteeEmail,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resolved, nil)
}

// Deactivate godoc
// @Summary Deactivate booking link
// @Tags BookingLinks
// @Param id path string true "Booking link ID"
// @Success 204
// @Router /booking-links/{id} [delete]
func (h *BookingLinkHandler) Deactivate(c *gin.Context) {
	if err := h.service.Deactivate(c.Request.Context(), tenantFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
