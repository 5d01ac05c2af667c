package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/novacal/novacal-api/internal/models"
)

const syncLogColumns = `id, tenant_id, connection_id, appointment_id, external_event_id, direction, operation, outcome, error_class, error_message, retry_count, next_retry_at, correlation_id, created_at`

// SyncLogRepository provides persistence for the append-only sync attempt
// log, which doubles as the durable retry queue.
type SyncLogRepository struct {
	db *sqlx.DB
}

// NewSyncLogRepository creates a new sync log repository.
func NewSyncLogRepository(db *sqlx.DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

// Append records one attempt. Rows are never updated.
func (r *SyncLogRepository) Append(ctx context.Context, entry *models.SyncAttemptLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO sync_attempt_log (id, tenant_id, connection_id, appointment_id, external_event_id, direction, operation, outcome, error_class, error_message, retry_count, next_retry_at, correlation_id, created_at)
        VALUES (:id, :tenant_id, :connection_id, :appointment_id, :external_event_id, :direction, :operation, :outcome, :error_class, :error_message, :retry_count, :next_retry_at, :correlation_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append sync attempt: %w", err)
	}
	return nil
}

// ListDue returns the latest attempt per correlation chain that still waits
// on a due retry.
func (r *SyncLogRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.SyncAttemptLog, error) {
	if limit <= 0 {
		limit = 50
	}
	inner := fmt.Sprintf(`SELECT DISTINCT ON (correlation_id) %s FROM sync_attempt_log ORDER BY correlation_id, created_at DESC`, syncLogColumns)
	query := fmt.Sprintf(`SELECT * FROM (%s) latest
        WHERE latest.outcome = 'failed' AND latest.next_retry_at IS NOT NULL AND latest.next_retry_at <= $1
        ORDER BY latest.next_retry_at ASC LIMIT %d`, inner, limit)
	var out []models.SyncAttemptLog
	if err := r.db.SelectContext(ctx, &out, query, now); err != nil {
		return nil, fmt.Errorf("list due sync retries: %w", err)
	}
	return out, nil
}

// FindLatestByCorrelation returns the newest attempt in a chain.
func (r *SyncLogRepository) FindLatestByCorrelation(ctx context.Context, tenantID, correlationID string) (*models.SyncAttemptLog, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_attempt_log WHERE tenant_id = $1 AND correlation_id = $2 ORDER BY created_at DESC LIMIT 1`, syncLogColumns)
	var entry models.SyncAttemptLog
	if err := r.db.GetContext(ctx, &entry, query, tenantID, correlationID); err != nil {
		return nil, fmt.Errorf("find sync attempt chain %s: %w", correlationID, err)
	}
	return &entry, nil
}

// List returns attempts with optional filtering, newest first.
func (r *SyncLogRepository) List(ctx context.Context, filter models.SyncAttemptFilter) ([]models.SyncAttemptLog, int, error) {
	base := "FROM sync_attempt_log WHERE tenant_id = $1"
	args := []interface{}{filter.TenantID}

	if filter.ConnectionID != "" {
		args = append(args, filter.ConnectionID)
		base += fmt.Sprintf(" AND connection_id = $%d", len(args))
	}
	if len(filter.Outcomes) > 0 {
		outcomes := make([]string, len(filter.Outcomes))
		for i, o := range filter.Outcomes {
			outcomes[i] = string(o)
		}
		args = append(args, pq.Array(outcomes))
		base += fmt.Sprintf(" AND outcome = ANY($%d)", len(args))
	}
	if len(filter.ErrorClasses) > 0 {
		classes := make([]string, len(filter.ErrorClasses))
		for i, c := range filter.ErrorClasses {
			classes[i] = string(c)
		}
		args = append(args, pq.Array(classes))
		base += fmt.Sprintf(" AND error_class = ANY($%d)", len(args))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", syncLogColumns, base, size, (page-1)*size)
	var out []models.SyncAttemptLog
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sync attempts: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count sync attempts: %w", err)
	}
	return out, total, nil
}

// CountByOutcome aggregates attempt outcomes since a point in time.
func (r *SyncLogRepository) CountByOutcome(ctx context.Context, since time.Time) (map[models.SyncOutcome]int, error) {
	const query = `SELECT outcome, COUNT(*) AS n FROM sync_attempt_log WHERE created_at >= $1 GROUP BY outcome`
	rows := []struct {
		Outcome models.SyncOutcome `db:"outcome"`
		N       int                `db:"n"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, fmt.Errorf("count sync outcomes: %w", err)
	}
	out := make(map[models.SyncOutcome]int, len(rows))
	for _, row := range rows {
		out[row.Outcome] = row.N
	}
	return out, nil
}
