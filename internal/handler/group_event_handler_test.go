package handler

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func groupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewGroupEventHandler(nil)
	router.POST("/public/:tenantId/appointments/:id/attendees", h.Register)
	router.DELETE("/public/:tenantId/appointments/:id/attendees", h.Cancel)
	return router
}

func TestRegisterRejectsInvalidEmail(t *testing.T) {
	router := groupTestRouter()

	req, _ := http.NewRequest(http.MethodPost, "/public/t1/appointments/group-1/attendees",
		bytes.NewBufferString(`{"name":"Ann","email":"not-an-email"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), `"VALIDATION_ERROR"`)
}

func TestCancelRequiresEmail(t *testing.T) {
	router := groupTestRouter()

	req, _ := http.NewRequest(http.MethodDelete, "/public/t1/appointments/group-1/attendees", nil)
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "attendee email is required")
}
