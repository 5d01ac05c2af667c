package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/novacal/novacal-api/internal/models"
)

const appointmentTypeColumns = `id, tenant_id, name, duration_minutes, buffer_before_minutes, buffer_after_minutes, location_mode, requires_approval, category, capacity, waitlist_enabled, routing_policy, fixed_assignee_id, round_robin, required_host_ids, optional_host_ids, active, created_at, updated_at`

// AppointmentTypeRepository provides persistence for appointment types.
type AppointmentTypeRepository struct {
	db *sqlx.DB
}

// NewAppointmentTypeRepository creates a new appointment type repository.
func NewAppointmentTypeRepository(db *sqlx.DB) *AppointmentTypeRepository {
	return &AppointmentTypeRepository{db: db}
}

// Create inserts an appointment type.
func (r *AppointmentTypeRepository) Create(ctx context.Context, at *models.AppointmentType) error {
	now := time.Now().UTC()
	if at.ID == "" {
		at.ID = uuid.NewString()
	}
	at.CreatedAt = now
	at.UpdatedAt = now

	const query = `INSERT INTO appointment_types (id, tenant_id, name, duration_minutes, buffer_before_minutes, buffer_after_minutes, location_mode, requires_approval, category, capacity, waitlist_enabled, routing_policy, fixed_assignee_id, round_robin, required_host_ids, optional_host_ids, active, created_at, updated_at)
        VALUES (:id, :tenant_id, :name, :duration_minutes, :buffer_before_minutes, :buffer_after_minutes, :location_mode, :requires_approval, :category, :capacity, :waitlist_enabled, :routing_policy, :fixed_assignee_id, :round_robin, :required_host_ids, :optional_host_ids, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, at); err != nil {
		return fmt.Errorf("create appointment type: %w", err)
	}
	return nil
}

// FindByID loads an appointment type.
func (r *AppointmentTypeRepository) FindByID(ctx context.Context, tenantID, id string) (*models.AppointmentType, error) {
	query := fmt.Sprintf(`SELECT %s FROM appointment_types WHERE tenant_id = $1 AND id = $2`, appointmentTypeColumns)
	var at models.AppointmentType
	if err := r.db.GetContext(ctx, &at, query, tenantID, id); err != nil {
		return nil, fmt.Errorf("find appointment type %s: %w", id, err)
	}
	return &at, nil
}

// List returns a tenant's appointment types, newest first.
func (r *AppointmentTypeRepository) List(ctx context.Context, tenantID string, activeOnly bool) ([]models.AppointmentType, error) {
	query := fmt.Sprintf(`SELECT %s FROM appointment_types WHERE tenant_id = $1`, appointmentTypeColumns)
	if activeOnly {
		query += " AND active = TRUE"
	}
	query += " ORDER BY created_at DESC"
	var out []models.AppointmentType
	if err := r.db.SelectContext(ctx, &out, query, tenantID); err != nil {
		return nil, fmt.Errorf("list appointment types: %w", err)
	}
	return out, nil
}

// Update rewrites the mutable fields of an appointment type.
func (r *AppointmentTypeRepository) Update(ctx context.Context, at *models.AppointmentType) error {
	at.UpdatedAt = time.Now().UTC()
	const query = `UPDATE appointment_types SET name = :name, duration_minutes = :duration_minutes, buffer_before_minutes = :buffer_before_minutes, buffer_after_minutes = :buffer_after_minutes, location_mode = :location_mode, requires_approval = :requires_approval, capacity = :capacity, waitlist_enabled = :waitlist_enabled, routing_policy = :routing_policy, fixed_assignee_id = :fixed_assignee_id, round_robin = :round_robin, required_host_ids = :required_host_ids, optional_host_ids = :optional_host_ids, active = :active, updated_at = :updated_at
        WHERE tenant_id = :tenant_id AND id = :id`
	res, err := r.db.NamedExecContext(ctx, query, at)
	if err != nil {
		return fmt.Errorf("update appointment type: %w", err)
	}
	return requireRowAffected(res, "appointment type", at.ID)
}
