package models

import "time"

// LinkVisibility controls how a booking link is discovered.
type LinkVisibility string

const (
	LinkPublic     LinkVisibility = "public"
	LinkDirectOnly LinkVisibility = "direct_only"
)

// BookingLink binds an appointment type (plus optional profile override) to a
// shareable slug with optional access controls.
type BookingLink struct {
	ID                 string         `db:"id" json:"id"`
	TenantID           string         `db:"tenant_id" json:"tenant_id"`
	TypeID             string         `db:"type_id" json:"type_id"`
	ProfileOverrideID  *string        `db:"profile_override_id" json:"profile_override_id,omitempty"`
	Slug               string         `db:"slug" json:"slug"`
	Token              string         `db:"token" json:"-"`
	Visibility         LinkVisibility `db:"visibility" json:"visibility"`
	PasswordHash       *string        `db:"password_hash" json:"-"`
	AllowEmailDomains  StringList     `db:"allow_email_domains" json:"allow_email_domains,omitempty"`
	DenyEmailDomains   StringList     `db:"deny_email_domains" json:"deny_email_domains,omitempty"`
	Active             bool           `db:"active" json:"active"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}
