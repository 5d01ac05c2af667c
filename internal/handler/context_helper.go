package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/novacal/novacal-api/internal/middleware"
	"github.com/novacal/novacal-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// tenantFromContext resolves the tenant scope of an authenticated request.
func tenantFromContext(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.TenantID
	}
	return ""
}

// actorFromContext identifies the acting operator for history trails.
func actorFromContext(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.Email
	}
	return "system"
}
