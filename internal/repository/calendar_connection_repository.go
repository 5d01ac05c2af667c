package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/novacal/novacal-api/internal/models"
)

const connectionColumns = `id, tenant_id, staff_id, provider, calendar_email, status, access_token, refresh_token, token_expires_at, feed_url, tentative_busy, sync_cursor, last_synced_at, created_at, updated_at`

// CalendarConnectionRepository provides persistence for external calendar
// connections.
type CalendarConnectionRepository struct {
	db *sqlx.DB
}

// NewCalendarConnectionRepository creates a new connection repository.
func NewCalendarConnectionRepository(db *sqlx.DB) *CalendarConnectionRepository {
	return &CalendarConnectionRepository{db: db}
}

// Create inserts a connection.
func (r *CalendarConnectionRepository) Create(ctx context.Context, c *models.CalendarConnection) error {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.ConnectionActive
	}
	c.CreatedAt = now
	c.UpdatedAt = now

	const query = `INSERT INTO calendar_connections (id, tenant_id, staff_id, provider, calendar_email, status, access_token, refresh_token, token_expires_at, feed_url, tentative_busy, sync_cursor, last_synced_at, created_at, updated_at)
        VALUES (:id, :tenant_id, :staff_id, :provider, :calendar_email, :status, :access_token, :refresh_token, :token_expires_at, :feed_url, :tentative_busy, :sync_cursor, :last_synced_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("create calendar connection: %w", err)
	}
	return nil
}

// FindByID loads a connection.
func (r *CalendarConnectionRepository) FindByID(ctx context.Context, tenantID, id string) (*models.CalendarConnection, error) {
	query := fmt.Sprintf(`SELECT %s FROM calendar_connections WHERE tenant_id = $1 AND id = $2`, connectionColumns)
	var c models.CalendarConnection
	if err := r.db.GetContext(ctx, &c, query, tenantID, id); err != nil {
		return nil, fmt.Errorf("find calendar connection %s: %w", id, err)
	}
	return &c, nil
}

// ListByStaff returns a staff member's connections.
func (r *CalendarConnectionRepository) ListByStaff(ctx context.Context, tenantID, staffID string) ([]models.CalendarConnection, error) {
	query := fmt.Sprintf(`SELECT %s FROM calendar_connections WHERE tenant_id = $1 AND staff_id = $2 ORDER BY created_at ASC`, connectionColumns)
	var out []models.CalendarConnection
	if err := r.db.SelectContext(ctx, &out, query, tenantID, staffID); err != nil {
		return nil, fmt.Errorf("list calendar connections: %w", err)
	}
	return out, nil
}

// ListSyncable returns connections the sync worker should visit, oldest
// sync first.
func (r *CalendarConnectionRepository) ListSyncable(ctx context.Context, limit int) ([]models.CalendarConnection, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM calendar_connections WHERE status = 'active' ORDER BY last_synced_at ASC NULLS FIRST LIMIT %d`, connectionColumns, limit)
	var out []models.CalendarConnection
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("list syncable connections: %w", err)
	}
	return out, nil
}

// UpdateTokens persists a refreshed token set.
func (r *CalendarConnectionRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	const query = `UPDATE calendar_connections SET access_token = $1, refresh_token = $2, token_expires_at = $3, updated_at = $4 WHERE id = $5`
	res, err := r.db.ExecContext(ctx, query, accessToken, refreshToken, expiresAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update connection tokens: %w", err)
	}
	return requireRowAffected(res, "calendar connection", id)
}

// UpdateCursor advances the incremental sync cursor and stamps the sync time.
func (r *CalendarConnectionRepository) UpdateCursor(ctx context.Context, id, cursor string) error {
	const query = `UPDATE calendar_connections SET sync_cursor = $1, last_synced_at = $2, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, cursor, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update connection cursor: %w", err)
	}
	return requireRowAffected(res, "calendar connection", id)
}

// UpdateStatus moves a connection between lifecycle states.
func (r *CalendarConnectionRepository) UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error {
	const query = `UPDATE calendar_connections SET status = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update connection status: %w", err)
	}
	return requireRowAffected(res, "calendar connection", id)
}

// Delete removes a connection.
func (r *CalendarConnectionRepository) Delete(ctx context.Context, tenantID, id string) error {
	const query = `DELETE FROM calendar_connections WHERE tenant_id = $1 AND id = $2`
	res, err := r.db.ExecContext(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete calendar connection: %w", err)
	}
	return requireRowAffected(res, "calendar connection", id)
}
