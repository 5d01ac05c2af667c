package handler

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func bookingTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewBookingHandler(nil, nil)
	router.POST("/public/:tenantId/bookings", h.Book)
	return router
}

func TestBookRejectsMalformedPayload(t *testing.T) {
	router := bookingTestRouter()

	req, _ := http.NewRequest(http.MethodPost, "/public/t1/bookings", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), `"VALIDATION_ERROR"`)
}

func TestBookRejectsMissingRequiredFields(t *testing.T) {
	router := bookingTestRouter()

	req, _ := http.NewRequest(http.MethodPost, "/public/t1/bookings", bytes.NewBufferString(`{"invitee_name":"Ann"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), `"VALIDATION_ERROR"`)
}
