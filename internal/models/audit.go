package models

import "time"

// AuditAction constants represent administrative actions to be logged.
const (
	AuditActionSyncReplay    = "SYNC_REPLAY"
	AuditActionResyncRequest = "RESYNC_REQUEST"
	AuditActionScheduleExport = "SCHEDULE_EXPORT"
	AuditActionHostSubstitute = "HOST_SUBSTITUTE"
)

// AuditLog represents an append-only administrative audit record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	ActorID    *string   `db:"actor_id" json:"actor_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	Details    []byte    `db:"details" json:"details,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
