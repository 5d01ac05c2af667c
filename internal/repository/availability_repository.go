package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/novacal/novacal-api/internal/models"
)

const availabilityProfileColumns = `id, tenant_id, owner_id, owner_kind, timezone, weekly_hours, exception_dates, recurring_blocks, holiday_region, auto_holidays, custom_holidays, min_notice_minutes, max_future_days, slot_rounding_minutes, min_gap_minutes, max_gap_minutes, created_at, updated_at`

// AvailabilityRepository provides persistence for availability profiles,
// both per-staff and per-pool.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository creates a new availability repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// Upsert writes the single profile per (tenant, owner).
func (r *AvailabilityRepository) Upsert(ctx context.Context, p *models.AvailabilityProfile) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
		p.CreatedAt = now
	}
	if p.OwnerKind == "" {
		p.OwnerKind = models.OwnerStaff
	}
	p.UpdatedAt = now

	const query = `INSERT INTO availability_profiles (id, tenant_id, owner_id, owner_kind, timezone, weekly_hours, exception_dates, recurring_blocks, holiday_region, auto_holidays, custom_holidays, min_notice_minutes, max_future_days, slot_rounding_minutes, min_gap_minutes, max_gap_minutes, created_at, updated_at)
        VALUES (:id, :tenant_id, :owner_id, :owner_kind, :timezone, :weekly_hours, :exception_dates, :recurring_blocks, :holiday_region, :auto_holidays, :custom_holidays, :min_notice_minutes, :max_future_days, :slot_rounding_minutes, :min_gap_minutes, :max_gap_minutes, :created_at, :updated_at)
        ON CONFLICT (tenant_id, owner_id, owner_kind) DO UPDATE SET
            timezone = EXCLUDED.timezone,
            weekly_hours = EXCLUDED.weekly_hours,
            exception_dates = EXCLUDED.exception_dates,
            recurring_blocks = EXCLUDED.recurring_blocks,
            holiday_region = EXCLUDED.holiday_region,
            auto_holidays = EXCLUDED.auto_holidays,
            custom_holidays = EXCLUDED.custom_holidays,
            min_notice_minutes = EXCLUDED.min_notice_minutes,
            max_future_days = EXCLUDED.max_future_days,
            slot_rounding_minutes = EXCLUDED.slot_rounding_minutes,
            min_gap_minutes = EXCLUDED.min_gap_minutes,
            max_gap_minutes = EXCLUDED.max_gap_minutes,
            updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("upsert availability profile: %w", err)
	}
	return nil
}

// FindByOwner loads the profile for one staff member or pool.
func (r *AvailabilityRepository) FindByOwner(ctx context.Context, tenantID, ownerID string, kind models.ProfileOwnerKind) (*models.AvailabilityProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM availability_profiles WHERE tenant_id = $1 AND owner_id = $2 AND owner_kind = $3`, availabilityProfileColumns)
	var p models.AvailabilityProfile
	if err := r.db.GetContext(ctx, &p, query, tenantID, ownerID, kind); err != nil {
		return nil, fmt.Errorf("find availability profile for %s %s: %w", kind, ownerID, err)
	}
	return &p, nil
}

// FindByStaffIDs loads staff profiles for a host set in one round trip,
// keyed by owner id.
func (r *AvailabilityRepository) FindByStaffIDs(ctx context.Context, tenantID string, staffIDs []string) (map[string]*models.AvailabilityProfile, error) {
	if len(staffIDs) == 0 {
		return map[string]*models.AvailabilityProfile{}, nil
	}
	query, args, err := sqlx.In(
		fmt.Sprintf(`SELECT %s FROM availability_profiles WHERE tenant_id = ? AND owner_kind = 'staff' AND owner_id IN (?)`, availabilityProfileColumns),
		tenantID, staffIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("build availability profile query: %w", err)
	}
	query = r.db.Rebind(query)
	var rows []models.AvailabilityProfile
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("find availability profiles: %w", err)
	}
	out := make(map[string]*models.AvailabilityProfile, len(rows))
	for i := range rows {
		out[rows[i].OwnerID] = &rows[i]
	}
	return out, nil
}
