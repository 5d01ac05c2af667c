package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/internal/service"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
	"github.com/novacal/novacal-api/pkg/response"
)

// PollHandler exposes meeting poll endpoints.
type PollHandler struct {
	service *service.PollService
}

// NewPollHandler builds a new handler.
func NewPollHandler(svc *service.PollService) *PollHandler {
	return &PollHandler{service: svc}
}

type voteRequest struct {
	VoterEmail string              `json:"voter_email" binding:"required,email"`
	VoterName  string              `json:"voter_name"`
	Answers    []models.PollAnswer `json:"answers" binding:"required"`
}

// Create godoc
// @Summary Open a meeting poll
// @Tags Polls
// @Accept json
// @Produce json
// @Param payload body service.CreatePollRequest true "Poll payload"
// @Success 201 {object} response.Envelope
// @Router /polls [post]
func (h *PollHandler) Create(c *gin.Context) {
	var req service.CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid poll payload"))
		return
	}
	req.TenantID = tenantFromContext(c)
	poll, err := h.service.CreatePoll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, poll)
}

// Get godoc
// @Summary Get a meeting poll
// @Tags Polls
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param id path string true "Poll ID"
// @Success 200 {object} response.Envelope
// @Router /public/{tenantId}/polls/{id} [get]
func (h *PollHandler) Get(c *gin.Context) {
	poll, err := h.service.Get(c.Request.Context(), c.Param("tenantId"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, poll, nil)
}

// Vote godoc
// @Summary Cast or replace a ballot
// @Tags Polls
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param id path string true "Poll ID"
// @Param payload body voteRequest true "Ballot payload"
// @Success 204
// @Router /public/{tenantId}/polls/{id}/votes [post]
func (h *PollHandler) Vote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid ballot payload"))
		return
	}
	if err := h.service.Vote(c.Request.Context(), c.Param("tenantId"), c.Param("id"), req.VoterEmail, req.VoterName, req.Answers); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Resolve godoc
// @Summary Resolve an open poll into a booked appointment
// @Tags Polls
// @Produce json
// @Param id path string true "Poll ID"
// @Success 200 {object} response.Envelope
// @Router /polls/{id}/resolve [post]
func (h *PollHandler) Resolve(c *gin.Context) {
	tenantID := tenantFromContext(c)
	if err := h.service.Resolve(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	poll, err := h.service.Get(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, poll, nil)
}

// Cancel godoc
// @Summary Cancel an open poll without booking
// @Tags Polls
// @Param id path string true "Poll ID"
// @Success 204
// @Router /polls/{id} [delete]
func (h *PollHandler) Cancel(c *gin.Context) {
	if err := h.service.CancelPoll(c.Request.Context(), tenantFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
