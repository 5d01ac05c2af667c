package models

import "github.com/golang-jwt/jwt/v5"

// OperatorRole scopes the operator API.
type OperatorRole string

const (
	RoleAdmin OperatorRole = "admin"
	RoleStaff OperatorRole = "staff"
)

// JWTClaims carries the authenticated operator identity. Tokens are issued by
// the platform's identity service; this module only validates them.
type JWTClaims struct {
	UserID   string       `json:"user_id"`
	TenantID string       `json:"tenant_id"`
	Email    string       `json:"email"`
	Role     OperatorRole `json:"role"`
	jwt.RegisteredClaims
}
