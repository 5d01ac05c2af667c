package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/novacal/novacal-api/internal/models"
)

const attendeeColumns = `id, appointment_id, email, name, status, created_at, updated_at`
const waitlistColumns = `id, appointment_id, email, name, priority, status, joined_at, promoted_at`

// GroupEventRepository provides persistence for group event attendees and
// the waitlist. Capacity-sensitive operations run inside the caller's
// transaction, which holds the appointment row lock.
type GroupEventRepository struct {
	db *sqlx.DB
}

// NewGroupEventRepository creates a new group event repository.
func NewGroupEventRepository(db *sqlx.DB) *GroupEventRepository {
	return &GroupEventRepository{db: db}
}

// CountActiveTx counts registered and confirmed attendees under the
// transaction's appointment lock.
func (r *GroupEventRepository) CountActiveTx(ctx context.Context, tx *sqlx.Tx, appointmentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM group_event_attendees WHERE appointment_id = $1 AND status IN ('registered', 'confirmed')`
	var count int
	if err := tx.GetContext(ctx, &count, query, appointmentID); err != nil {
		return 0, fmt.Errorf("count active attendees: %w", err)
	}
	return count, nil
}

// AddAttendeeTx registers an attendee inside the booking transaction.
func (r *GroupEventRepository) AddAttendeeTx(ctx context.Context, tx *sqlx.Tx, a *models.GroupEventAttendee) error {
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = now
	a.UpdatedAt = now

	const query = `INSERT INTO group_event_attendees (id, appointment_id, email, name, status, created_at, updated_at)
        VALUES (:id, :appointment_id, :email, :name, :status, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("add attendee: %w", err)
	}
	return nil
}

// FindAttendeeTx loads an attendee by email under the transaction's lock.
func (r *GroupEventRepository) FindAttendeeTx(ctx context.Context, tx *sqlx.Tx, appointmentID, email string) (*models.GroupEventAttendee, error) {
	query := fmt.Sprintf(`SELECT %s FROM group_event_attendees WHERE appointment_id = $1 AND email = $2`, attendeeColumns)
	var a models.GroupEventAttendee
	err := tx.GetContext(ctx, &a, query, appointmentID, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find attendee: %w", err)
	}
	return &a, nil
}

// UpdateAttendeeStatusTx moves an attendee through its lifecycle.
func (r *GroupEventRepository) UpdateAttendeeStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.AttendeeStatus) error {
	const query = `UPDATE group_event_attendees SET status = $1, updated_at = $2 WHERE id = $3`
	res, err := tx.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update attendee status: %w", err)
	}
	return requireRowAffected(res, "attendee", id)
}

// ListAttendees returns attendees for an appointment, oldest first.
func (r *GroupEventRepository) ListAttendees(ctx context.Context, appointmentID string) ([]models.GroupEventAttendee, error) {
	query := fmt.Sprintf(`SELECT %s FROM group_event_attendees WHERE appointment_id = $1 ORDER BY created_at ASC`, attendeeColumns)
	var out []models.GroupEventAttendee
	if err := r.db.SelectContext(ctx, &out, query, appointmentID); err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	return out, nil
}

// AddWaitlistTx enqueues an invitee when the event is full.
func (r *GroupEventRepository) AddWaitlistTx(ctx context.Context, tx *sqlx.Tx, w *models.GroupEventWaitlist) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.JoinedAt.IsZero() {
		w.JoinedAt = time.Now().UTC()
	}
	const query = `INSERT INTO group_event_waitlist (id, appointment_id, email, name, priority, status, joined_at, promoted_at)
        VALUES (:id, :appointment_id, :email, :name, :priority, :status, :joined_at, :promoted_at)`
	if _, err := tx.NamedExecContext(ctx, query, w); err != nil {
		return fmt.Errorf("add waitlist entry: %w", err)
	}
	return nil
}

// NextWaitingTx returns the head of the waitlist. Priority descends, join
// time breaks ties.
func (r *GroupEventRepository) NextWaitingTx(ctx context.Context, tx *sqlx.Tx, appointmentID string) (*models.GroupEventWaitlist, error) {
	query := fmt.Sprintf(`SELECT %s FROM group_event_waitlist WHERE appointment_id = $1 AND status = 'waiting' ORDER BY priority DESC, joined_at ASC LIMIT 1`, waitlistColumns)
	var w models.GroupEventWaitlist
	err := tx.GetContext(ctx, &w, query, appointmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find next waitlist entry: %w", err)
	}
	return &w, nil
}

// PromoteTx marks a waitlist entry promoted.
func (r *GroupEventRepository) PromoteTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	const query = `UPDATE group_event_waitlist SET status = 'promoted', promoted_at = $1 WHERE id = $2 AND status = 'waiting'`
	res, err := tx.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("promote waitlist entry: %w", err)
	}
	return requireRowAffected(res, "waitlist entry", id)
}

// ListWaitlist returns waiting entries in promotion order.
func (r *GroupEventRepository) ListWaitlist(ctx context.Context, appointmentID string) ([]models.GroupEventWaitlist, error) {
	query := fmt.Sprintf(`SELECT %s FROM group_event_waitlist WHERE appointment_id = $1 AND status = 'waiting' ORDER BY priority DESC, joined_at ASC`, waitlistColumns)
	var out []models.GroupEventWaitlist
	if err := r.db.SelectContext(ctx, &out, query, appointmentID); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return out, nil
}
