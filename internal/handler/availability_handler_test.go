package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func slotsTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewAvailabilityHandler(nil, nil, nil, nil)
	router.GET("/public/:tenantId/types/:typeId/slots", h.Slots)
	return router
}

func TestSlotsRejectsMalformedDates(t *testing.T) {
	router := slotsTestRouter()

	req, _ := http.NewRequest(http.MethodGet, "/public/t1/types/type-1/slots?from=09-03-2026&to=2026-03-10", nil)
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "invalid from date")
}

func TestSlotsRejectsInvertedRange(t *testing.T) {
	router := slotsTestRouter()

	req, _ := http.NewRequest(http.MethodGet, "/public/t1/types/type-1/slots?from=2026-03-10&to=2026-03-09", nil)
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "end precedes start")
}

func TestParseDateRangeNormalizesBounds(t *testing.T) {
	rng, err := parseDateRange("2026-03-09", "2026-03-15")
	require.NoError(t, err)
	require.Equal(t, "2026-03-09", rng.From.Format("2006-01-02"))
	require.Equal(t, "2026-03-15", rng.To.Format("2006-01-02"))
}
