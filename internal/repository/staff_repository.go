package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/novacal/novacal-api/internal/models"
)

const staffColumns = `id, tenant_id, name, email, role, password_hash, active, last_login_at, created_at, updated_at`

// StaffRepository provides persistence for staff members.
type StaffRepository struct {
	db *sqlx.DB
}

// NewStaffRepository creates a new staff repository.
func NewStaffRepository(db *sqlx.DB) *StaffRepository {
	return &StaffRepository{db: db}
}

// Create inserts a staff member.
func (r *StaffRepository) Create(ctx context.Context, s *models.StaffMember) error {
	now := time.Now().UTC()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = now
	s.UpdatedAt = now

	const query = `INSERT INTO staff_members (id, tenant_id, name, email, role, password_hash, active, last_login_at, created_at, updated_at)
        VALUES (:id, :tenant_id, :name, :email, :role, :password_hash, :active, :last_login_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, s); err != nil {
		return fmt.Errorf("create staff member: %w", err)
	}
	return nil
}

// FindByID loads a staff member.
func (r *StaffRepository) FindByID(ctx context.Context, tenantID, id string) (*models.StaffMember, error) {
	query := fmt.Sprintf(`SELECT %s FROM staff_members WHERE tenant_id = $1 AND id = $2`, staffColumns)
	var s models.StaffMember
	if err := r.db.GetContext(ctx, &s, query, tenantID, id); err != nil {
		return nil, fmt.Errorf("find staff member %s: %w", id, err)
	}
	return &s, nil
}

// FindByEmail resolves a login identity across tenants.
func (r *StaffRepository) FindByEmail(ctx context.Context, email string) (*models.StaffMember, error) {
	query := fmt.Sprintf(`SELECT %s FROM staff_members WHERE email = $1`, staffColumns)
	var s models.StaffMember
	if err := r.db.GetContext(ctx, &s, query, email); err != nil {
		return nil, fmt.Errorf("find staff member by email: %w", err)
	}
	return &s, nil
}

// ListActive returns a tenant's active staff, stable by creation order.
func (r *StaffRepository) ListActive(ctx context.Context, tenantID string) ([]models.StaffMember, error) {
	query := fmt.Sprintf(`SELECT %s FROM staff_members WHERE tenant_id = $1 AND active = TRUE ORDER BY created_at ASC`, staffColumns)
	var out []models.StaffMember
	if err := r.db.SelectContext(ctx, &out, query, tenantID); err != nil {
		return nil, fmt.Errorf("list active staff: %w", err)
	}
	return out, nil
}

// UpdateLastLogin stamps a successful sign in.
func (r *StaffRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE staff_members SET last_login_at = $1, updated_at = $1 WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, ts, id)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return requireRowAffected(res, "staff member", id)
}
