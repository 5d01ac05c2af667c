package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseMetaCarriesCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(WithResponseMeta())
	var meta map[string]interface{}
	r.GET("/slots", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slots", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, meta)
	assert.Equal(t, true, meta[cacheHitKey])
}

func TestExtractMetaWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	assert.Nil(t, ExtractMeta(nil))

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, ExtractMeta(c))

	// SetCacheHit creates the map on demand.
	SetCacheHit(c, false)
	meta := ExtractMeta(c)
	require.NotNil(t, meta)
	assert.Equal(t, false, meta[cacheHitKey])
}
