package models

import "time"

// StaffMember is a bookable host. Staff with a password hash can also sign
// in to the operator API.
type StaffMember struct {
	ID           string       `db:"id" json:"id"`
	TenantID     string       `db:"tenant_id" json:"tenant_id"`
	Name         string       `db:"name" json:"name"`
	Email        string       `db:"email" json:"email"`
	Role         OperatorRole `db:"role" json:"role"`
	PasswordHash string       `db:"password_hash" json:"-"`
	Active       bool         `db:"active" json:"active"`
	LastLoginAt  *time.Time   `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// LoginRequest is the operator login payload.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse carries the issued access token.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	IssuedAt    time.Time `json:"issued_at"`
	User        StaffInfo `json:"user"`
}

// StaffInfo is the public projection of a staff member.
type StaffInfo struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Email string       `json:"email"`
	Role  OperatorRole `json:"role"`
}
