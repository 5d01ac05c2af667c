package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/internal/service"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
	"github.com/novacal/novacal-api/pkg/response"
)

// ConnectionHandler manages per-staff calendar connections.
type ConnectionHandler struct {
	connections *service.CalendarConnectionService
	conflicts   *service.ConflictService
}

// NewConnectionHandler builds a new handler.
func NewConnectionHandler(connections *service.CalendarConnectionService, conflicts *service.ConflictService) *ConnectionHandler {
	return &ConnectionHandler{connections: connections, conflicts: conflicts}
}

// AuthorizationURL godoc
// @Summary Get the OAuth consent URL for a provider
// @Tags Connections
// @Produce json
// @Param provider query string true "Calendar provider"
// @Param state query string false "Opaque OAuth state"
// @Success 200 {object} response.Envelope
// @Router /connections/auth-url [get]
func (h *ConnectionHandler) AuthorizationURL(c *gin.Context) {
	url, err := h.connections.AuthorizationURL(models.Provider(c.Query("provider")), c.Query("state"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"authorization_url": url}, nil)
}

// Connect godoc
// @Summary Connect a provider calendar
// @Tags Connections
// @Accept json
// @Produce json
// @Param payload body service.ConnectRequest true "Connection payload"
// @Success 201 {object} response.Envelope
// @Router /connections [post]
func (h *ConnectionHandler) Connect(c *gin.Context) {
	var req service.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid connection payload"))
		return
	}
	req.TenantID = tenantFromContext(c)
	conn, err := h.connections.Connect(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, conn)
}

// List godoc
// @Summary List calendar connections
// @Tags Connections
// @Produce json
// @Param staff_id query string false "Filter by staff member"
// @Success 200 {object} response.Envelope
// @Router /connections [get]
func (h *ConnectionHandler) List(c *gin.Context) {
	conns, err := h.connections.List(c.Request.Context(), tenantFromContext(c), c.Query("staff_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conns, nil)
}

// Get godoc
// @Summary Get a calendar connection
// @Tags Connections
// @Produce json
// @Param id path string true "Connection ID"
// @Success 200 {object} response.Envelope
// @Router /connections/{id} [get]
func (h *ConnectionHandler) Get(c *gin.Context) {
	conn, err := h.connections.Get(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conn, nil)
}

// Disconnect godoc
// @Summary Disconnect a calendar connection
// @Tags Connections
// @Param id path string true "Connection ID"
// @Success 204
// @Router /connections/{id} [delete]
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
	if err := h.connections.Disconnect(c.Request.Context(), tenantFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// BusyIntervals godoc
// @Summary List the merged busy intervals of a staff member
// @Tags Connections
// @Produce json
// @Param staffId path string true "Staff member ID"
// @Param from query string true "Window start (RFC3339)"
// @Param to query string true "Window end (RFC3339)"
// @Success 200 {object} response.Envelope
// @Router /staff/{staffId}/busy [get]
func (h *ConnectionHandler) BusyIntervals(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid from timestamp, expected RFC3339"))
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid to timestamp, expected RFC3339"))
		return
	}

	busy, sources, err := h.conflicts.BusyIntervals(c.Request.Context(), tenantFromContext(c), c.Param("staffId"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"busy": busy, "sources": sources}, nil)
}
