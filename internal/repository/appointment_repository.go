package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/novacal/novacal-api/internal/models"
)

const appointmentColumns = `id, tenant_id, type_id, staff_id, collective_host_ids, start_at, end_at, status, invitee_name, invitee_email, intake_answers, connection_id, external_event_id, revision, created_at, updated_at`

// AppointmentRepository provides persistence for appointments and their
// status history.
type AppointmentRepository struct {
	db *sqlx.DB
}

// NewAppointmentRepository creates a new appointment repository.
func NewAppointmentRepository(db *sqlx.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

// BeginTx opens a transaction for a booking unit of work.
func (r *AppointmentRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin appointment tx: %w", err)
	}
	return tx, nil
}

// FindByID loads an appointment.
func (r *AppointmentRepository) FindByID(ctx context.Context, tenantID, id string) (*models.Appointment, error) {
	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE tenant_id = $1 AND id = $2`, appointmentColumns)
	var appt models.Appointment
	if err := r.db.GetContext(ctx, &appt, query, tenantID, id); err != nil {
		return nil, fmt.Errorf("find appointment %s: %w", id, err)
	}
	return &appt, nil
}

// FindByIDTx loads an appointment inside a transaction with a row lock, so
// status transitions serialize per appointment.
func (r *AppointmentRepository) FindByIDTx(ctx context.Context, tx *sqlx.Tx, tenantID, id string) (*models.Appointment, error) {
	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, appointmentColumns)
	var appt models.Appointment
	if err := tx.GetContext(ctx, &appt, query, tenantID, id); err != nil {
		return nil, fmt.Errorf("find appointment %s for update: %w", id, err)
	}
	return &appt, nil
}

// FindOverlapping returns blocking appointments that intersect the padded
// window for any of the given hosts. Runs on the caller's executor so the
// booking re-check shares its transaction.
func (r *AppointmentRepository) FindOverlapping(ctx context.Context, exec sqlx.ExtContext, tenantID string, hostIDs []string, start, end time.Time) ([]models.Appointment, error) {
	if exec == nil {
		exec = r.db
	}
	if len(hostIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM appointments
        WHERE tenant_id = $1
          AND status IN ('requested', 'confirmed')
          AND start_at < $2 AND end_at > $3
          AND (staff_id = ANY($4) OR collective_host_ids ?| $4)`, appointmentColumns)
	var out []models.Appointment
	if err := sqlx.SelectContext(ctx, exec, &out, query, tenantID, end, start, pq.Array(hostIDs)); err != nil {
		return nil, fmt.Errorf("find overlapping appointments: %w", err)
	}
	return out, nil
}

// ListBlockingInRange returns a host's requested/confirmed appointments
// intersecting [from, to), ordered by start.
func (r *AppointmentRepository) ListBlockingInRange(ctx context.Context, tenantID, staffID string, from, to time.Time) ([]models.Appointment, error) {
	query := fmt.Sprintf(`SELECT %s FROM appointments
        WHERE tenant_id = $1
          AND status IN ('requested', 'confirmed')
          AND start_at < $2 AND end_at > $3
          AND (staff_id = $4 OR collective_host_ids ? $4)
        ORDER BY start_at ASC`, appointmentColumns)
	var out []models.Appointment
	if err := r.db.SelectContext(ctx, &out, query, tenantID, to, from, staffID); err != nil {
		return nil, fmt.Errorf("list blocking appointments: %w", err)
	}
	return out, nil
}

// CreateTx inserts an appointment within the booking transaction.
func (r *AppointmentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, appt *models.Appointment) error {
	now := time.Now().UTC()
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.Revision == 0 {
		appt.Revision = 1
	}
	appt.CreatedAt = now
	appt.UpdatedAt = now

	const query = `INSERT INTO appointments (id, tenant_id, type_id, staff_id, collective_host_ids, start_at, end_at, status, invitee_name, invitee_email, intake_answers, connection_id, external_event_id, revision, created_at, updated_at)
        VALUES (:id, :tenant_id, :type_id, :staff_id, :collective_host_ids, :start_at, :end_at, :status, :invitee_name, :invitee_email, :intake_answers, :connection_id, :external_event_id, :revision, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, appt); err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

// UpdateStatusTx moves an appointment to a new status and bumps its revision.
func (r *AppointmentRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, tenantID, id string, status models.AppointmentStatus) error {
	const query = `UPDATE appointments SET status = $1, revision = revision + 1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`
	res, err := tx.ExecContext(ctx, query, status, time.Now().UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	return requireRowAffected(res, "appointment", id)
}

// UpdateHostsTx swaps the host assignment on a collective appointment.
func (r *AppointmentRepository) UpdateHostsTx(ctx context.Context, tx *sqlx.Tx, tenantID, id, staffID string, hosts models.StringList) error {
	const query = `UPDATE appointments SET staff_id = $1, collective_host_ids = $2, revision = revision + 1, updated_at = $3 WHERE tenant_id = $4 AND id = $5`
	res, err := tx.ExecContext(ctx, query, staffID, hosts, time.Now().UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("update appointment hosts: %w", err)
	}
	return requireRowAffected(res, "appointment", id)
}

// ApplyExternalTx applies a provider pull onto the appointment window and
// cancellation flag.
func (r *AppointmentRepository) ApplyExternalTx(ctx context.Context, tx *sqlx.Tx, tenantID, id string, start, end time.Time, status models.AppointmentStatus) error {
	const query = `UPDATE appointments SET start_at = $1, end_at = $2, status = $3, revision = revision + 1, updated_at = $4 WHERE tenant_id = $5 AND id = $6`
	res, err := tx.ExecContext(ctx, query, start, end, status, time.Now().UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("apply external update: %w", err)
	}
	return requireRowAffected(res, "appointment", id)
}

// LinkExternal stores the provider linkage after a successful push.
func (r *AppointmentRepository) LinkExternal(ctx context.Context, tenantID, id, connectionID, externalEventID string) error {
	const query = `UPDATE appointments SET connection_id = $1, external_event_id = $2, updated_at = $3 WHERE tenant_id = $4 AND id = $5`
	res, err := r.db.ExecContext(ctx, query, connectionID, externalEventID, time.Now().UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("link appointment external event: %w", err)
	}
	return requireRowAffected(res, "appointment", id)
}

// FindByExternal resolves the unique (connection, external event) pair.
func (r *AppointmentRepository) FindByExternal(ctx context.Context, connectionID, externalEventID string) (*models.Appointment, error) {
	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE connection_id = $1 AND external_event_id = $2`, appointmentColumns)
	var appt models.Appointment
	err := r.db.GetContext(ctx, &appt, query, connectionID, externalEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find appointment by external id: %w", err)
	}
	return &appt, nil
}

// ListConfirmedUnlinked returns push candidates for a staff member: confirmed
// appointments with no provider linkage yet.
func (r *AppointmentRepository) ListConfirmedUnlinked(ctx context.Context, tenantID, staffID string, limit int) ([]models.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM appointments
        WHERE tenant_id = $1 AND staff_id = $2 AND status = 'confirmed' AND external_event_id IS NULL
        ORDER BY start_at ASC LIMIT %d`, appointmentColumns, limit)
	var out []models.Appointment
	if err := r.db.SelectContext(ctx, &out, query, tenantID, staffID); err != nil {
		return nil, fmt.Errorf("list unlinked appointments: %w", err)
	}
	return out, nil
}

// CountActiveByStaff counts blocking appointments per staff member.
func (r *AppointmentRepository) CountActiveByStaff(ctx context.Context, tenantID, staffID string) (int, error) {
	const query = `SELECT COUNT(*) FROM appointments WHERE tenant_id = $1 AND status IN ('requested', 'confirmed') AND (staff_id = $2 OR collective_host_ids ? $2)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, tenantID, staffID); err != nil {
		return 0, fmt.Errorf("count active appointments: %w", err)
	}
	return count, nil
}

// CountByStaffSince counts appointments assigned since a point in time,
// cancelled ones excluded.
func (r *AppointmentRepository) CountByStaffSince(ctx context.Context, tenantID, staffID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM appointments WHERE tenant_id = $1 AND staff_id = $2 AND status <> 'cancelled' AND created_at >= $3`
	var count int
	if err := r.db.GetContext(ctx, &count, query, tenantID, staffID, since); err != nil {
		return 0, fmt.Errorf("count appointments since: %w", err)
	}
	return count, nil
}

// CountOnDay counts a staff member's blocking appointments starting within
// the UTC day window.
func (r *AppointmentRepository) CountOnDay(ctx context.Context, tenantID, staffID string, dayStart, dayEnd time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM appointments WHERE tenant_id = $1 AND staff_id = $2 AND status IN ('requested', 'confirmed') AND start_at >= $3 AND start_at < $4`
	var count int
	if err := r.db.GetContext(ctx, &count, query, tenantID, staffID, dayStart, dayEnd); err != nil {
		return 0, fmt.Errorf("count appointments on day: %w", err)
	}
	return count, nil
}

// List returns appointments with optional filtering and pagination.
func (r *AppointmentRepository) List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error) {
	base := "FROM appointments WHERE tenant_id = $1"
	args := []interface{}{filter.TenantID}

	if filter.TypeID != "" {
		args = append(args, filter.TypeID)
		base += fmt.Sprintf(" AND type_id = $%d", len(args))
	}
	if filter.StaffID != "" {
		args = append(args, filter.StaffID)
		base += fmt.Sprintf(" AND staff_id = $%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		base += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		base += fmt.Sprintf(" AND end_at > $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		base += fmt.Sprintf(" AND start_at < $%d", len(args))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY start_at ASC LIMIT %d OFFSET %d", appointmentColumns, base, size, (page-1)*size)
	var out []models.Appointment
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	return out, total, nil
}

// AddHistoryTx appends one immutable transition row.
func (r *AppointmentRepository) AddHistoryTx(ctx context.Context, tx *sqlx.Tx, h *models.AppointmentStatusHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO appointment_status_history (id, appointment_id, from_status, to_status, reason, actor, created_at)
        VALUES (:id, :appointment_id, :from_status, :to_status, :reason, :actor, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, h); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

// ListHistory returns the transition trail for an appointment, oldest first.
func (r *AppointmentRepository) ListHistory(ctx context.Context, appointmentID string) ([]models.AppointmentStatusHistory, error) {
	const query = `SELECT id, appointment_id, from_status, to_status, reason, actor, created_at FROM appointment_status_history WHERE appointment_id = $1 ORDER BY created_at ASC`
	var out []models.AppointmentStatusHistory
	if err := r.db.SelectContext(ctx, &out, query, appointmentID); err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	return out, nil
}

func requireRowAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s %s: %w", what, id, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint hit,
// optionally restricted to a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || strings.Contains(pqErr.Constraint, constraint)
}
