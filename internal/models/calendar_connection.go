package models

import "time"

// Provider identifies an external calendar provider.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
	ProviderBusyFeed  Provider = "busy_feed"
)

// Valid reports whether the provider is a known value.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderMicrosoft, ProviderBusyFeed:
		return true
	}
	return false
}

// ConnectionStatus is the health of an authenticated provider link.
type ConnectionStatus string

const (
	ConnectionActive ConnectionStatus = "active"
	ConnectionExpired ConnectionStatus = "expired"
	ConnectionRevoked ConnectionStatus = "revoked"
	// ConnectionNeedsAttention marks a connection whose last sync failed with
	// a non-retryable error; automatic sync is suppressed until an operator
	// replays or the staff member reconnects.
	ConnectionNeedsAttention ConnectionStatus = "needs_attention"
)

// Syncable reports whether automatic sync cycles may run.
func (s ConnectionStatus) Syncable() bool {
	return s == ConnectionActive
}

// CalendarConnection is a per-staff, per-provider authenticated link.
type CalendarConnection struct {
	ID             string           `db:"id" json:"id"`
	TenantID       string           `db:"tenant_id" json:"tenant_id"`
	StaffID        string           `db:"staff_id" json:"staff_id"`
	Provider       Provider         `db:"provider" json:"provider"`
	CalendarEmail  string           `db:"calendar_email" json:"calendar_email"`
	AccessToken    string           `db:"access_token" json:"-"`
	RefreshToken   string           `db:"refresh_token" json:"-"`
	TokenExpiresAt *time.Time       `db:"token_expires_at" json:"token_expires_at,omitempty"`
	FeedURL        *string          `db:"feed_url" json:"feed_url,omitempty"`
	TentativeBusy  bool             `db:"tentative_busy" json:"tentative_busy"`
	SyncCursor     string           `db:"sync_cursor" json:"sync_cursor"`
	Status         ConnectionStatus `db:"status" json:"status"`
	LastSyncedAt   *time.Time       `db:"last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}
