package handler

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/novacal/novacal-api/internal/service"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
	"github.com/novacal/novacal-api/pkg/response"
)

// ExportHandler generates and serves daily schedule PDFs.
type ExportHandler struct {
	service *service.ExportService
}

// NewExportHandler builds a new handler.
func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

type exportScheduleRequest struct {
	StaffID  string `json:"staff_id" binding:"required"`
	Date     string `json:"date" binding:"required"`
	Timezone string `json:"timezone"`
}

// GenerateSchedule godoc
// @Summary Generate a staff member's daily schedule PDF
// @Tags Exports
// @Accept json
// @Produce json
// @Param payload body exportScheduleRequest true "Export payload"
// @Success 201 {object} response.Envelope
// @Router /exports/schedule [post]
func (h *ExportHandler) GenerateSchedule(c *gin.Context) {
	var req exportScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export payload"))
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD"))
		return
	}
	loc := time.UTC
	if req.Timezone != "" {
		loc, err = time.LoadLocation(req.Timezone)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown timezone: "+req.Timezone))
			return
		}
	}

	result, err := h.service.GenerateSchedule(c.Request.Context(), tenantFromContext(c), req.StaffID, date, loc)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download an exported schedule via signed token
// @Tags Exports
// @Produce application/pdf
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /export/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	_, relPath, _, err := h.service.ParseToken(c.Param("token"), false)
	if err != nil {
		response.Error(c, err)
		return
	}

	file, err := h.service.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export no longer available"))
		return
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export"))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+filepath.Base(relPath)+`"`)
	c.DataFromReader(http.StatusOK, info.Size(), "application/pdf", file, nil)
}
