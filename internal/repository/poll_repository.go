package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/novacal/novacal-api/internal/models"
)

const pollColumns = `id, tenant_id, type_id, title, proposed_slots, invitee_emails, require_all_invitees, deadline, status, resolved_slot_index, resolved_appointment_id, created_at, updated_at`
const pollVoteColumns = `id, poll_id, voter_email, voter_name, answers, created_at, updated_at`

// PollRepository provides persistence for meeting polls and their votes.
type PollRepository struct {
	db *sqlx.DB
}

// NewPollRepository creates a new poll repository.
func NewPollRepository(db *sqlx.DB) *PollRepository {
	return &PollRepository{db: db}
}

// BeginTx opens a transaction for vote-then-resolve units of work.
func (r *PollRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin poll tx: %w", err)
	}
	return tx, nil
}

// Create inserts a poll.
func (r *PollRepository) Create(ctx context.Context, p *models.MeetingPoll) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PollOpen
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	const query = `INSERT INTO meeting_polls (id, tenant_id, type_id, title, proposed_slots, invitee_emails, require_all_invitees, deadline, status, resolved_slot_index, resolved_appointment_id, created_at, updated_at)
        VALUES (:id, :tenant_id, :type_id, :title, :proposed_slots, :invitee_emails, :require_all_invitees, :deadline, :status, :resolved_slot_index, :resolved_appointment_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("create poll: %w", err)
	}
	return nil
}

// FindByID loads a poll.
func (r *PollRepository) FindByID(ctx context.Context, tenantID, id string) (*models.MeetingPoll, error) {
	query := fmt.Sprintf(`SELECT %s FROM meeting_polls WHERE tenant_id = $1 AND id = $2`, pollColumns)
	var p models.MeetingPoll
	if err := r.db.GetContext(ctx, &p, query, tenantID, id); err != nil {
		return nil, fmt.Errorf("find poll %s: %w", id, err)
	}
	return &p, nil
}

// FindByIDTx loads a poll with a row lock so concurrent votes resolve
// the poll exactly once.
func (r *PollRepository) FindByIDTx(ctx context.Context, tx *sqlx.Tx, tenantID, id string) (*models.MeetingPoll, error) {
	query := fmt.Sprintf(`SELECT %s FROM meeting_polls WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, pollColumns)
	var p models.MeetingPoll
	if err := tx.GetContext(ctx, &p, query, tenantID, id); err != nil {
		return nil, fmt.Errorf("find poll %s for update: %w", id, err)
	}
	return &p, nil
}

// UpsertVoteTx records or replaces a voter's answer set. A voter has one row
// per poll keyed by email.
func (r *PollRepository) UpsertVoteTx(ctx context.Context, tx *sqlx.Tx, v *models.MeetingPollVote) error {
	now := time.Now().UTC()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	const query = `INSERT INTO meeting_poll_votes (id, poll_id, voter_email, voter_name, answers, created_at, updated_at)
        VALUES (:id, :poll_id, :voter_email, :voter_name, :answers, :created_at, :updated_at)
        ON CONFLICT (poll_id, voter_email) DO UPDATE SET voter_name = EXCLUDED.voter_name, answers = EXCLUDED.answers, updated_at = EXCLUDED.updated_at`
	if _, err := tx.NamedExecContext(ctx, query, v); err != nil {
		return fmt.Errorf("upsert poll vote: %w", err)
	}
	return nil
}

// ListVotesTx returns all votes for a poll under the transaction's lock.
func (r *PollRepository) ListVotesTx(ctx context.Context, tx *sqlx.Tx, pollID string) ([]models.MeetingPollVote, error) {
	query := fmt.Sprintf(`SELECT %s FROM meeting_poll_votes WHERE poll_id = $1 ORDER BY created_at ASC`, pollVoteColumns)
	var out []models.MeetingPollVote
	if err := tx.SelectContext(ctx, &out, query, pollID); err != nil {
		return nil, fmt.Errorf("list poll votes: %w", err)
	}
	return out, nil
}

// ResolveTx closes the poll with its winning slot. The appointment id is
// attached separately once the booking lands, so the poll leaves the open
// state before any appointment exists.
func (r *PollRepository) ResolveTx(ctx context.Context, tx *sqlx.Tx, tenantID, id string, slotIndex int) error {
	const query = `UPDATE meeting_polls SET status = 'resolved', resolved_slot_index = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4 AND status = 'open'`
	res, err := tx.ExecContext(ctx, query, slotIndex, time.Now().UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("resolve poll: %w", err)
	}
	return requireRowAffected(res, "poll", id)
}

// AttachAppointmentTx stamps the appointment booked for a resolved poll.
func (r *PollRepository) AttachAppointmentTx(ctx context.Context, tx *sqlx.Tx, tenantID, id, appointmentID string) error {
	const query = `UPDATE meeting_polls SET resolved_appointment_id = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4 AND status = 'resolved'`
	res, err := tx.ExecContext(ctx, query, appointmentID, time.Now().UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("attach poll appointment: %w", err)
	}
	return requireRowAffected(res, "poll", id)
}

// Cancel closes a poll without a winner.
func (r *PollRepository) Cancel(ctx context.Context, tenantID, id string) error {
	const query = `UPDATE meeting_polls SET status = 'cancelled', updated_at = $1 WHERE tenant_id = $2 AND id = $3 AND status = 'open'`
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("cancel poll: %w", err)
	}
	return requireRowAffected(res, "poll", id)
}

// ListExpired returns open polls whose deadline has passed.
func (r *PollRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.MeetingPoll, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM meeting_polls WHERE status = 'open' AND deadline IS NOT NULL AND deadline <= $1 ORDER BY deadline ASC LIMIT %d`, pollColumns, limit)
	var out []models.MeetingPoll
	if err := r.db.SelectContext(ctx, &out, query, cutoff); err != nil {
		return nil, fmt.Errorf("list expired polls: %w", err)
	}
	return out, nil
}
