package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/novacal/novacal-api/internal/models"
)

const bookingLinkColumns = `id, tenant_id, type_id, profile_override_id, slug, token, visibility, password_hash, allow_email_domains, deny_email_domains, active, created_at, updated_at`

// BookingLinkRepository provides persistence for shareable booking links.
type BookingLinkRepository struct {
	db *sqlx.DB
}

// NewBookingLinkRepository creates a new booking link repository.
func NewBookingLinkRepository(db *sqlx.DB) *BookingLinkRepository {
	return &BookingLinkRepository{db: db}
}

// Create inserts a booking link.
func (r *BookingLinkRepository) Create(ctx context.Context, link *models.BookingLink) error {
	now := time.Now().UTC()
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	link.CreatedAt = now
	link.UpdatedAt = now

	const query = `INSERT INTO booking_links (id, tenant_id, type_id, profile_override_id, slug, token, visibility, password_hash, allow_email_domains, deny_email_domains, active, created_at, updated_at)
        VALUES (:id, :tenant_id, :type_id, :profile_override_id, :slug, :token, :visibility, :password_hash, :allow_email_domains, :deny_email_domains, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, link); err != nil {
		return fmt.Errorf("create booking link: %w", err)
	}
	return nil
}

// FindBySlug resolves a public booking link.
func (r *BookingLinkRepository) FindBySlug(ctx context.Context, tenantID, slug string) (*models.BookingLink, error) {
	query := fmt.Sprintf(`SELECT %s FROM booking_links WHERE tenant_id = $1 AND slug = $2 AND active = TRUE`, bookingLinkColumns)
	var link models.BookingLink
	if err := r.db.GetContext(ctx, &link, query, tenantID, slug); err != nil {
		return nil, fmt.Errorf("find booking link by slug %s: %w", slug, err)
	}
	return &link, nil
}

// FindByToken resolves a secret-token booking link independent of tenant.
func (r *BookingLinkRepository) FindByToken(ctx context.Context, token string) (*models.BookingLink, error) {
	query := fmt.Sprintf(`SELECT %s FROM booking_links WHERE token = $1 AND active = TRUE`, bookingLinkColumns)
	var link models.BookingLink
	if err := r.db.GetContext(ctx, &link, query, token); err != nil {
		return nil, fmt.Errorf("find booking link by token: %w", err)
	}
	return &link, nil
}

// Deactivate turns a link off without deleting its history.
func (r *BookingLinkRepository) Deactivate(ctx context.Context, tenantID, id string) error {
	const query = `UPDATE booking_links SET active = FALSE, updated_at = $1 WHERE tenant_id = $2 AND id = $3`
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("deactivate booking link: %w", err)
	}
	return requireRowAffected(res, "booking link", id)
}
