package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/novacal/novacal-api/internal/models"
)

// AuditRepository provides append-only persistence for administrative
// audit records.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts an audit record.
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, tenant_id, actor_id, action, resource, resource_id, details, ip_address, user_agent, created_at)
        VALUES (:id, :tenant_id, :actor_id, :action, :resource, :resource_id, :details, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// ListByResource returns the trail for one resource, newest first.
func (r *AuditRepository) ListByResource(ctx context.Context, tenantID, resource, resourceID string) ([]models.AuditLog, error) {
	const query = `SELECT id, tenant_id, actor_id, action, resource, resource_id, details, ip_address, user_agent, created_at
        FROM audit_logs WHERE tenant_id = $1 AND resource = $2 AND resource_id = $3 ORDER BY created_at DESC`
	var out []models.AuditLog
	if err := r.db.SelectContext(ctx, &out, query, tenantID, resource, resourceID); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return out, nil
}
