package handler

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func exportTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewExportHandler(nil)
	router.POST("/exports/schedule", h.GenerateSchedule)
	return router
}

func TestGenerateScheduleRejectsMalformedDate(t *testing.T) {
	router := exportTestRouter()

	req, _ := http.NewRequest(http.MethodPost, "/exports/schedule",
		bytes.NewBufferString(`{"staff_id":"staff-1","date":"09/03/2026"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "invalid date")
}

func TestGenerateScheduleRejectsUnknownTimezone(t *testing.T) {
	router := exportTestRouter()

	req, _ := http.NewRequest(http.MethodPost, "/exports/schedule",
		bytes.NewBufferString(`{"staff_id":"staff-1","date":"2026-03-09","timezone":"Mars/Olympus"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "unknown timezone")
}
