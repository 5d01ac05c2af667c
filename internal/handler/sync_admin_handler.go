package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/internal/service"
	"github.com/novacal/novacal-api/pkg/response"
)

// SyncAdminHandler exposes operator tooling over the sync attempt log.
type SyncAdminHandler struct {
	service *service.SyncService
}

// NewSyncAdminHandler builds a new handler.
func NewSyncAdminHandler(svc *service.SyncService) *SyncAdminHandler {
	return &SyncAdminHandler{service: svc}
}

// Attempts godoc
// @Summary List sync attempts
// @Tags SyncAdmin
// @Produce json
// @Param connection_id query string false "Filter by connection"
// @Param outcome query string false "Filter by outcome"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/sync/attempts [get]
func (h *SyncAdminHandler) Attempts(c *gin.Context) {
	filter := models.SyncAttemptFilter{
		TenantID:     tenantFromContext(c),
		ConnectionID: c.Query("connection_id"),
		Page:         queryInt(c, "page", 1),
		PageSize:     queryInt(c, "page_size", 50),
	}
	if outcome := c.Query("outcome"); outcome != "" {
		filter.Outcomes = []models.SyncOutcome{models.SyncOutcome(outcome)}
	}

	attempts, total, err := h.service.Attempts(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attempts, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Replay godoc
// @Summary Manually replay a failed sync chain
// @Tags SyncAdmin
// @Param correlationId path string true "Correlation ID"
// @Success 204
// @Router /admin/sync/attempts/{correlationId}/replay [post]
func (h *SyncAdminHandler) Replay(c *gin.Context) {
	if err := h.service.Replay(c.Request.Context(), tenantFromContext(c), c.Param("correlationId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Resync godoc
// @Summary Force a full resync of a connection
// @Tags SyncAdmin
// @Param id path string true "Connection ID"
// @Success 204
// @Router /admin/sync/connections/{id}/resync [post]
func (h *SyncAdminHandler) Resync(c *gin.Context) {
	if err := h.service.Resync(c.Request.Context(), tenantFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
